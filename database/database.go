package database

import (
	"fmt"
	"os"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/config"

	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// db is the gorm database handle shared by the whole process. All writes go
// through it serially via transactions; readers may use it concurrently.
var db *gorm.DB

// dbPath is remembered for size checks.
var dbPath string

// DB returns a reference to the database connection
func DB() (*gorm.DB, error) {
	if db == nil {
		return nil, errors.New("database is not connected")
	}
	return db, nil
}

// Connect migrates the schema to the latest version and connects to the
// database defined by the given config.
func Connect(cfg *config.Config) error {
	log.Infof("Connecting to database %s", cfg.DBPath)

	err := migrateDatabase(cfg)
	if err != nil {
		return err
	}

	connected, err := gorm.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "could not open database")
	}
	connected.SetLogger(gormLogger{})

	// Write-ahead journaling and a coarse page cache. These are performance
	// settings, not correctness settings.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		dbErr := connected.Exec(pragma).Error
		if dbErr != nil {
			connected.Close()
			return errors.Wrapf(dbErr, "could not apply '%s'", pragma)
		}
	}

	db = connected
	dbPath = cfg.DBPath
	return nil
}

// Close closes the database connection, if it's open.
func Close() error {
	if db == nil {
		return nil
	}
	// Fold the WAL back into the main file before shutdown.
	db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := db.Close()
	db = nil
	return err
}

// SizeBytes returns the current size of the database file.
func SizeBytes() (int64, error) {
	if dbPath == "" {
		return 0, errors.New("database is not connected")
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		return 0, errors.Wrap(err, "could not stat database file")
	}
	return info.Size(), nil
}

func migrateDatabase(cfg *config.Config) error {
	migrator, err := migrate.New(
		fmt.Sprintf("file://%s", cfg.MigrationsDir),
		fmt.Sprintf("sqlite3://%s", cfg.DBPath))
	if err != nil {
		return errors.Wrap(err, "could not initialize migrator")
	}
	defer migrator.Close()

	err = migrator.Up()
	if err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "could not migrate database")
	}

	version, isDirty, err := migrator.Version()
	if err != nil {
		return errors.Wrap(err, "could not read migration version")
	}
	if isDirty {
		return errors.Errorf("database is dirty at migration version %d", version)
	}
	log.Infof("Database is at migration version %d", version)
	return nil
}

// gormLogger routes gorm's internal logging into the BCDB subsystem logger.
type gormLogger struct{}

func (gormLogger) Print(v ...interface{}) {
	log.Debugf("%s", fmt.Sprintln(v...))
}
