package store

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/models"
)

// DailyRevenue is the revenue of one address on one calendar day.
type DailyRevenue struct {
	Date  string  `json:"date"`
	Total float64 `json:"total"`
	Count int64   `json:"count"`
}

// RevenueTotal summarizes everything an address has ever received.
type RevenueTotal struct {
	Total          float64 `json:"total"`
	Count          int64   `json:"count"`
	FirstTimestamp int64   `json:"firstTimestamp"`
	LastTimestamp  int64   `json:"lastTimestamp"`
}

// RangeRevenue is the revenue of an address over a block height range.
type RangeRevenue struct {
	Total float64 `json:"total"`
	Count int64   `json:"count"`
}

// Pagination describes one page of a transaction listing.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// DailyRevenueSince returns per-calendar-day revenue sums for the address,
// ascending by date, covering transactions at or after sinceTimestamp.
func (s *Store) DailyRevenueSince(address string, sinceTimestamp int64) ([]DailyRevenue, error) {
	rows, err := s.db.Model(&models.Transaction{}).
		Where("`address` = ? AND `timestamp` >= ?", address, sinceTimestamp).
		Group("day").
		Order("day ASC").
		Select("date(`timestamp`, 'unixepoch') AS day, sum(`value`), count(*)").Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "could not query daily revenue for %s", address)
	}
	defer rows.Close()

	var daily []DailyRevenue
	for rows.Next() {
		var entry DailyRevenue
		err = rows.Scan(&entry.Date, &entry.Total, &entry.Count)
		if err != nil {
			return nil, errors.Wrap(err, "could not scan daily revenue row")
		}
		daily = append(daily, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "could not iterate daily revenue rows")
	}
	return daily, nil
}

// TotalRevenue returns the all-time revenue summary of the address.
func (s *Store) TotalRevenue(address string) (*RevenueTotal, error) {
	row := s.db.Model(&models.Transaction{}).
		Where("`address` = ?", address).
		Select("coalesce(sum(`value`), 0), count(*), min(`timestamp`), max(`timestamp`)").Row()

	total := &RevenueTotal{}
	var first, last sql.NullInt64
	err := row.Scan(&total.Total, &total.Count, &first, &last)
	if err != nil {
		return nil, errors.Wrapf(err, "could not query total revenue for %s", address)
	}
	total.FirstTimestamp = first.Int64
	total.LastTimestamp = last.Int64
	return total, nil
}

// RevenueInBlockRange returns the revenue of the address over the inclusive
// height range [startHeight, endHeight]. An empty address sums every
// watched address.
func (s *Store) RevenueInBlockRange(address string, startHeight, endHeight int64) (*RangeRevenue, error) {
	query := s.db.Model(&models.Transaction{}).
		Where("`block_height` BETWEEN ? AND ?", startHeight, endHeight)
	if address != "" {
		query = query.Where("`address` = ?", address)
	}

	revenue := &RangeRevenue{}
	row := query.Select("coalesce(sum(`value`), 0), count(*)").Row()
	err := row.Scan(&revenue.Total, &revenue.Count)
	if err != nil {
		return nil, errors.Wrapf(err, "could not query block range revenue for %s", address)
	}
	return revenue, nil
}

// TransactionsByAddress returns one page of stored transactions, newest
// first. An empty address lists every watched address. The optional search
// term substring-matches the tx hash, the resolved sender, or the
// stringified value.
func (s *Store) TransactionsByAddress(address string, page, limit int, search string) ([]*models.Transaction, *Pagination, error) {
	if page < 1 {
		page = 1
	}

	query := s.db.Model(&models.Transaction{})
	if address != "" {
		query = query.Where("`address` = ?", address)
	}
	if search != "" {
		pattern := fmt.Sprintf("%%%s%%", search)
		query = query.Where(
			"`tx_hash` LIKE ? OR `from_address` LIKE ? OR CAST(`value` AS TEXT) LIKE ?",
			pattern, pattern, pattern)
	}

	var total int64
	countErr := query.Count(&total).Error
	if countErr != nil {
		return nil, nil, errors.Wrap(countErr, "could not count transactions")
	}

	var transactions []*models.Transaction
	result := query.
		Order("`timestamp` DESC, `block_height` DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&transactions)
	if result.Error != nil {
		return nil, nil, errors.Wrap(result.Error, "could not list transactions")
	}

	pagination := &Pagination{
		Page:  page,
		Limit: limit,
		Total: total,
	}
	if limit > 0 {
		pagination.Pages = (total + int64(limit) - 1) / int64(limit)
	}
	return transactions, pagination, nil
}
