package config

import (
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultLogFilename = "fluxrevenue.log"
	defaultDBFilename  = "fluxrevenue.db"
	defaultHTTPListen  = "0.0.0.0:8080"
)

var activeConfig *Config

// ActiveConfig returns the active configuration struct
func ActiveConfig() *Config {
	return activeConfig
}

// Config defines the configuration options for the revenue indexer.
//
// Every tuning knob can be set on the command line or through the
// corresponding environment variable. An optimization level preset, when
// given, overrides the individual sync and concurrency knobs.
type Config struct {
	Addresses  []string `long:"address" env:"FLUX_ADDRESSES" env-delim:"," description:"Watched recipient address (may be specified multiple times)"`
	APIURL     string   `long:"apiurl" env:"FLUX_API_URL" default:"https://api.runonflux.io" description:"Base URL of the Flux daemon JSON API"`
	StatsURL   string   `long:"statsurl" env:"FLUX_STATS_URL" default:"https://stats.runonflux.io" description:"Base URL of the Flux network stats host"`
	DBPath     string   `long:"dbpath" env:"FLUX_DB_PATH" description:"Path to the sqlite database file"`
	MigrationsDir string `long:"migrationsdir" env:"FLUX_MIGRATIONS_DIR" default:"migrations" description:"Directory containing database migration files"`
	HTTPListen string   `long:"listen" env:"FLUX_LISTEN" description:"HTTP address to listen on (default: 0.0.0.0:8080)"`
	WorkDir    string   `long:"workdir" env:"FLUX_WORK_DIR" default:"." description:"Directory for the database and log files"`
	DebugLevel string   `long:"debuglevel" short:"d" env:"FLUX_DEBUG_LEVEL" default:"info" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	MaxBlocksPerSync int           `long:"maxblockspersync" env:"FLUX_MAX_BLOCKS_PER_SYNC" default:"1000" description:"Maximum number of blocks a single sync cycle may fetch and commit"`
	SyncInterval     time.Duration `long:"syncinterval" env:"FLUX_SYNC_INTERVAL" default:"2m" description:"Delay between sync cycles"`
	BatchSize        int           `long:"batchsize" env:"FLUX_BATCH_SIZE" default:"50" description:"Number of blocks fetched and committed per batch"`
	ParallelBatches  int           `long:"parallelbatches" env:"FLUX_PARALLEL_BATCHES" default:"2" description:"Number of batches prepared ahead of the committer"`

	RetentionDays int `long:"retentiondays" env:"FLUX_RETENTION_DAYS" default:"30" description:"Days of history to retain"`
	BlocksPerDay  int `long:"blocksperday" env:"FLUX_BLOCKS_PER_DAY" default:"720" description:"Expected number of blocks per day"`

	MaxConcurrent     int           `long:"maxconcurrent" env:"FLUX_MAX_CONCURRENT" default:"10" description:"Maximum number of in-flight upstream HTTP requests"`
	ConnectionTimeout time.Duration `long:"connectiontimeout" env:"FLUX_CONNECTION_TIMEOUT" default:"30s" description:"Per-request HTTP timeout"`
	RequestDelay      time.Duration `long:"requestdelay" env:"FLUX_REQUEST_DELAY" default:"100ms" description:"Delay inserted between queued upstream requests"`
	CollectionTimeout time.Duration `long:"collectiontimeout" env:"FLUX_COLLECTION_TIMEOUT" default:"60s" description:"Outer deadline for a network stats collection"`

	AddressCacheSize int `long:"addresscachesize" env:"FLUX_ADDRESS_CACHE_SIZE" default:"10000" description:"Capacity of the resolved sender address cache"`
	BlockCacheSize   int `long:"blockcachesize" env:"FLUX_BLOCK_CACHE_SIZE" default:"1000" description:"Capacity of the block body cache"`

	GapFillThreshold float64 `long:"gapfillthreshold" env:"FLUX_GAP_FILL_THRESHOLD" default:"95" description:"Sync progress percentage at which gap detection starts running"`
	MaxDBSizeGB      float64 `long:"maxdbsizegb" env:"FLUX_MAX_DB_SIZE_GB" default:"10" description:"Soft cap on the database file size in gigabytes"`

	OptimizationLevel string `long:"optimization" env:"FLUX_OPTIMIZATION" description:"Tuning preset overriding the sync and concurrency knobs {conservative, aggressive, maximum}"`

	DisableServer   bool `long:"noserver" env:"FLUX_NO_SERVER" description:"Do not start the HTTP server"`
	DisableNetStats bool `long:"nonetstats" env:"FLUX_NO_NETSTATS" description:"Do not run the network stats snapshot collector"`
}

// optimization presets override the knobs that pace upstream traffic.
var optimizationPresets = map[string]struct {
	maxConcurrent    int
	batchSize        int
	maxBlocksPerSync int
	requestDelay     time.Duration
}{
	"conservative": {maxConcurrent: 5, batchSize: 25, maxBlocksPerSync: 500, requestDelay: 200 * time.Millisecond},
	"aggressive":   {maxConcurrent: 15, batchSize: 100, maxBlocksPerSync: 2000, requestDelay: 50 * time.Millisecond},
	"maximum":      {maxConcurrent: 25, batchSize: 200, maxBlocksPerSync: 5000, requestDelay: 0},
}

// Parse parses the CLI arguments and returns a config struct.
func Parse() (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	_, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	err = cfg.resolve()
	if err != nil {
		return nil, err
	}

	activeConfig = cfg
	return cfg, nil
}

// resolve fills in derived defaults and validates the parsed options.
func (cfg *Config) resolve() error {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.WorkDir, defaultDBFilename)
	}
	if cfg.HTTPListen == "" {
		cfg.HTTPListen = defaultHTTPListen
	}

	if cfg.OptimizationLevel != "" {
		preset, ok := optimizationPresets[cfg.OptimizationLevel]
		if !ok {
			return errors.Errorf("unknown optimization level '%s'", cfg.OptimizationLevel)
		}
		log.Infof("Applying '%s' optimization preset", cfg.OptimizationLevel)
		cfg.MaxConcurrent = preset.maxConcurrent
		cfg.BatchSize = preset.batchSize
		cfg.MaxBlocksPerSync = preset.maxBlocksPerSync
		cfg.RequestDelay = preset.requestDelay
	}

	if cfg.MaxBlocksPerSync < 0 {
		return errors.New("maxblockspersync may not be negative")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("batchsize must be positive")
	}
	if cfg.MaxConcurrent <= 0 {
		return errors.New("maxconcurrent must be positive")
	}
	if cfg.RetentionDays <= 0 {
		return errors.New("retentiondays must be positive")
	}
	if cfg.BlocksPerDay <= 0 {
		return errors.New("blocksperday must be positive")
	}
	if cfg.GapFillThreshold < 0 || cfg.GapFillThreshold > 100 {
		return errors.New("gapfillthreshold must be within [0, 100]")
	}

	return nil
}

// LogFile returns the path of the rotating log file.
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.WorkDir, "logs", defaultLogFilename)
}

// RetentionBlocks returns the number of blocks covered by the retention
// window.
func (cfg *Config) RetentionBlocks() int64 {
	return int64(cfg.BlocksPerDay) * int64(cfg.RetentionDays)
}

// WatchedSet returns the watched addresses as a membership set.
func (cfg *Config) WatchedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(cfg.Addresses))
	for _, address := range cfg.Addresses {
		set[address] = struct{}{}
	}
	return set
}
