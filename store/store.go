package store

import (
	"database/sql"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/models"
)

// Store is the persistent index of blocks and watched-address payments. It
// owns the lifetime of every persistent entity; all writes go through it as
// atomic batch commits, while readers may query it concurrently.
type Store struct {
	db *gorm.DB
}

// New returns a Store over the given database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Frontier is the stored height range: the pair of moving frontiers the
// sync engine plans against.
type Frontier struct {
	Count   int64
	Highest *int64
	Lowest  *int64
}

// Frontier returns the block count and the highest and lowest stored
// heights. Highest and Lowest are nil when the store is empty.
func (s *Store) Frontier() (*Frontier, error) {
	row := s.db.Model(&models.Block{}).
		Select("count(*), max(height), min(height)").Row()

	var count int64
	var highest, lowest sql.NullInt64
	err := row.Scan(&count, &highest, &lowest)
	if err != nil {
		return nil, errors.Wrap(err, "could not read frontier")
	}

	frontier := &Frontier{Count: count}
	if highest.Valid {
		frontier.Highest = &highest.Int64
	}
	if lowest.Valid {
		frontier.Lowest = &lowest.Int64
	}
	return frontier, nil
}

// BatchInsert inserts the given blocks and transactions in one atomic
// database transaction: either all rows are durable or none are. Rows that
// collide with an existing height or (tx_hash, vout_index, address) triple
// are silently ignored. Returns how many rows of each kind were actually
// inserted.
func (s *Store) BatchInsert(blocks []*models.Block, transactions []*models.Transaction) (insertedBlocks, insertedTxs int64, err error) {
	dbTx := s.db.Begin()
	if dbTx.Error != nil {
		return 0, 0, errors.Wrap(dbTx.Error, "could not begin batch insert")
	}
	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	now := time.Now().Unix()
	for _, block := range blocks {
		syncedAt := block.SyncedAt
		if syncedAt == 0 {
			syncedAt = now
		}
		result := dbTx.Exec(
			"INSERT OR IGNORE INTO `blocks` (`height`, `timestamp`, `hash`, `synced_at`) VALUES (?, ?, ?, ?)",
			block.Height, block.Timestamp, block.Hash, syncedAt)
		if result.Error != nil {
			return 0, 0, errors.Wrapf(result.Error, "could not insert block %d", block.Height)
		}
		insertedBlocks += result.RowsAffected
	}

	for _, transaction := range transactions {
		result := dbTx.Exec(
			"INSERT OR IGNORE INTO `transactions` "+
				"(`block_height`, `tx_hash`, `vout_index`, `address`, `from_address`, `value`, `timestamp`) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?)",
			transaction.BlockHeight, transaction.TxHash, transaction.VoutIndex,
			transaction.Address, transaction.FromAddress, transaction.Value, transaction.Timestamp)
		if result.Error != nil {
			return 0, 0, errors.Wrapf(result.Error, "could not insert transaction %s:%d",
				transaction.TxHash, transaction.VoutIndex)
		}
		insertedTxs += result.RowsAffected
	}

	commitErr := dbTx.Commit().Error
	if commitErr != nil {
		return 0, 0, errors.Wrap(commitErr, "could not commit batch insert")
	}
	log.Tracef("Committed %d blocks and %d transactions (%d/%d were duplicates)",
		insertedBlocks, insertedTxs, int64(len(blocks))-insertedBlocks, int64(len(transactions))-insertedTxs)
	return insertedBlocks, insertedTxs, nil
}

// MissingHeights returns every height in [from, to] that has no stored
// block, in ascending order.
func (s *Store) MissingHeights(from, to int64) ([]int64, error) {
	if from > to {
		return nil, nil
	}

	rows, err := s.db.Model(&models.Block{}).
		Where("`height` BETWEEN ? AND ?", from, to).
		Order("`height` ASC").
		Select("`height`").Rows()
	if err != nil {
		return nil, errors.Wrap(err, "could not query stored heights")
	}
	defer rows.Close()

	var missing []int64
	next := from
	for rows.Next() {
		var height int64
		err = rows.Scan(&height)
		if err != nil {
			return nil, errors.Wrap(err, "could not scan stored height")
		}
		for ; next < height; next++ {
			missing = append(missing, next)
		}
		next = height + 1
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "could not iterate stored heights")
	}
	for ; next <= to; next++ {
		missing = append(missing, next)
	}
	return missing, nil
}

// BlockTimestamp returns the stored timestamp of the given height, or false
// when the height is not stored.
func (s *Store) BlockTimestamp(height int64) (int64, bool, error) {
	block := &models.Block{}
	result := s.db.Where("`height` = ?", height).First(block)
	if result.RecordNotFound() {
		return 0, false, nil
	}
	if result.Error != nil {
		return 0, false, errors.Wrapf(result.Error, "could not read block %d", height)
	}
	return block.Timestamp, true, nil
}

// PruneBelow deletes transactions and then blocks whose timestamp is older
// than the cutoff. Transactions go first: they reference block heights, and
// the reference is advisory rather than enforced, so the delete order is
// what keeps the invariant intact.
func (s *Store) PruneBelow(cutoffTimestamp int64) (prunedBlocks, prunedTxs int64, err error) {
	dbTx := s.db.Begin()
	if dbTx.Error != nil {
		return 0, 0, errors.Wrap(dbTx.Error, "could not begin prune")
	}
	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	txResult := dbTx.Exec("DELETE FROM `transactions` WHERE `timestamp` < ?", cutoffTimestamp)
	if txResult.Error != nil {
		return 0, 0, errors.Wrap(txResult.Error, "could not prune transactions")
	}
	blockResult := dbTx.Exec("DELETE FROM `blocks` WHERE `timestamp` < ?", cutoffTimestamp)
	if blockResult.Error != nil {
		return 0, 0, errors.Wrap(blockResult.Error, "could not prune blocks")
	}

	commitErr := dbTx.Commit().Error
	if commitErr != nil {
		return 0, 0, errors.Wrap(commitErr, "could not commit prune")
	}
	return blockResult.RowsAffected, txResult.RowsAffected, nil
}

// BackfillSender records the resolved sender of a stored transaction. Rows
// that already have a sender are left alone.
func (s *Store) BackfillSender(txHash string, blockHeight int64, voutIndex int, fromAddress string) (bool, error) {
	result := s.db.Exec(
		"UPDATE `transactions` SET `from_address` = ? "+
			"WHERE `tx_hash` = ? AND `block_height` = ? AND `vout_index` = ? AND `from_address` IS NULL",
		fromAddress, txHash, blockHeight, voutIndex)
	if result.Error != nil {
		return false, errors.Wrapf(result.Error, "could not backfill sender for %s:%d", txHash, voutIndex)
	}
	return result.RowsAffected > 0, nil
}

// UnresolvedSenders returns up to limit transactions with no resolved
// sender, oldest block first.
func (s *Store) UnresolvedSenders(limit int) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	result := s.db.
		Where("`from_address` IS NULL").
		Order("`block_height` ASC").
		Limit(limit).
		Find(&transactions)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "could not query unresolved senders")
	}
	return transactions, nil
}
