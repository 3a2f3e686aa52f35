package aggregator

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/config"
	"github.com/2ndtlmining/fluxrevenue/models"
	"github.com/2ndtlmining/fluxrevenue/store"
)

// Block-based period lengths. The chain targets 720 blocks a day.
const (
	PeriodDayBlocks   = 720
	PeriodWeekBlocks  = 5040
	PeriodMonthBlocks = 21600
	PeriodYearBlocks  = 262800
)

// Aggregator is the read side of the index: it composes the store's
// aggregation queries into the shapes the HTTP handlers serve.
type Aggregator struct {
	cfg   *config.Config
	store *store.Store
}

// New creates an Aggregator over the given store.
func New(cfg *config.Config, revenueStore *store.Store) *Aggregator {
	return &Aggregator{cfg: cfg, store: revenueStore}
}

// AddressRevenue is the revenue picture of a single address.
type AddressRevenue struct {
	Address string               `json:"address"`
	Total   float64              `json:"total"`
	Count   int64                `json:"count"`
	FirstTimestamp int64         `json:"firstTimestamp"`
	LastTimestamp  int64         `json:"lastTimestamp"`
	Daily   []store.DailyRevenue `json:"daily,omitempty"`
}

// RevenueReport is a calendar-time revenue series over one or more
// addresses.
type RevenueReport struct {
	Days      int                  `json:"days"`
	Addresses []string             `json:"addresses"`
	Daily     []store.DailyRevenue `json:"daily"`
	Total     float64              `json:"total"`
	Count     int64                `json:"count"`
	Breakdown []AddressRevenue     `json:"breakdown,omitempty"`
}

// Revenue returns the per-day revenue series of the given addresses over
// the trailing number of days. Multiple addresses are merged into one
// series keyed by date; the optional breakdown adds a per-address view.
// An empty address list falls back to the configured watched set.
func (a *Aggregator) Revenue(days int, addresses []string, breakdown bool) (*RevenueReport, error) {
	if days <= 0 {
		return nil, errors.New("days must be positive")
	}
	if len(addresses) == 0 {
		addresses = a.cfg.Addresses
	}

	sinceTimestamp := time.Now().Unix() - int64(days)*86400
	report := &RevenueReport{Days: days, Addresses: addresses}

	merged := make(map[string]*store.DailyRevenue)
	for _, address := range addresses {
		daily, err := a.store.DailyRevenueSince(address, sinceTimestamp)
		if err != nil {
			return nil, err
		}

		for _, day := range daily {
			report.Total += day.Total
			report.Count += day.Count
			entry, ok := merged[day.Date]
			if !ok {
				entry = &store.DailyRevenue{Date: day.Date}
				merged[day.Date] = entry
			}
			entry.Total += day.Total
			entry.Count += day.Count
		}

		if breakdown {
			total, err := a.store.TotalRevenue(address)
			if err != nil {
				return nil, err
			}
			report.Breakdown = append(report.Breakdown, AddressRevenue{
				Address:        address,
				Total:          total.Total,
				Count:          total.Count,
				FirstTimestamp: total.FirstTimestamp,
				LastTimestamp:  total.LastTimestamp,
				Daily:          daily,
			})
		}
	}

	report.Daily = make([]store.DailyRevenue, 0, len(merged))
	for _, entry := range merged {
		report.Daily = append(report.Daily, *entry)
	}
	sort.Slice(report.Daily, func(i, j int) bool {
		return report.Daily[i].Date < report.Daily[j].Date
	})
	return report, nil
}

// BlockRangeReport is revenue measured over a trailing block range rather
// than calendar time.
type BlockRangeReport struct {
	Blocks      int64            `json:"blocks"`
	StartHeight int64            `json:"startHeight"`
	EndHeight   int64            `json:"endHeight"`
	Period      string           `json:"period"`
	Total       float64          `json:"total"`
	Count       int64            `json:"count"`
	Breakdown   []AddressRevenue `json:"breakdown,omitempty"`
}

// RevenueByBlocks returns revenue over the trailing block range
// [highest − blocks, highest], using the highest stored height as tip. When
// address is empty, every watched address contributes and the report
// carries a per-address breakdown.
func (a *Aggregator) RevenueByBlocks(blocks int64, address string) (*BlockRangeReport, error) {
	if blocks <= 0 {
		return nil, errors.New("blocks must be positive")
	}

	frontier, err := a.store.Frontier()
	if err != nil {
		return nil, err
	}
	if frontier.Highest == nil {
		return &BlockRangeReport{Blocks: blocks, Period: describePeriod(blocks)}, nil
	}

	endHeight := *frontier.Highest
	startHeight := endHeight - blocks
	if startHeight < 0 {
		startHeight = 0
	}

	report := &BlockRangeReport{
		Blocks:      blocks,
		StartHeight: startHeight,
		EndHeight:   endHeight,
		Period:      describePeriod(blocks),
	}

	if address != "" {
		revenue, err := a.store.RevenueInBlockRange(address, startHeight, endHeight)
		if err != nil {
			return nil, err
		}
		report.Total = revenue.Total
		report.Count = revenue.Count
		return report, nil
	}

	for _, watchedAddress := range a.cfg.Addresses {
		revenue, err := a.store.RevenueInBlockRange(watchedAddress, startHeight, endHeight)
		if err != nil {
			return nil, err
		}
		report.Total += revenue.Total
		report.Count += revenue.Count
		report.Breakdown = append(report.Breakdown, AddressRevenue{
			Address: watchedAddress,
			Total:   revenue.Total,
			Count:   revenue.Count,
		})
	}
	return report, nil
}

// AddressBreakdown returns the full revenue picture, including the daily
// series, for each given address. An empty list falls back to the watched
// set.
func (a *Aggregator) AddressBreakdown(addresses []string) (map[string]*AddressRevenue, error) {
	if len(addresses) == 0 {
		addresses = a.cfg.Addresses
	}

	breakdown := make(map[string]*AddressRevenue, len(addresses))
	for _, address := range addresses {
		total, err := a.store.TotalRevenue(address)
		if err != nil {
			return nil, err
		}
		daily, err := a.store.DailyRevenueSince(address, 0)
		if err != nil {
			return nil, err
		}
		breakdown[address] = &AddressRevenue{
			Address:        address,
			Total:          total.Total,
			Count:          total.Count,
			FirstTimestamp: total.FirstTimestamp,
			LastTimestamp:  total.LastTimestamp,
			Daily:          daily,
		}
	}
	return breakdown, nil
}

// TransactionPage is one page of the transaction listing.
type TransactionPage struct {
	Transactions []*models.Transaction `json:"transactions"`
	Pagination   *store.Pagination     `json:"pagination"`
}

// Transactions lists stored payments, newest first, with optional substring
// search over hash, sender, and value.
func (a *Aggregator) Transactions(address string, page, limit int, search string) (*TransactionPage, error) {
	transactions, pagination, err := a.store.TransactionsByAddress(address, page, limit, search)
	if err != nil {
		return nil, err
	}
	if transactions == nil {
		transactions = []*models.Transaction{}
	}
	return &TransactionPage{Transactions: transactions, Pagination: pagination}, nil
}

// describePeriod maps a block count to its conventional period name.
func describePeriod(blocks int64) string {
	switch blocks {
	case PeriodDayBlocks:
		return "day"
	case PeriodWeekBlocks:
		return "week"
	case PeriodMonthBlocks:
		return "month"
	case PeriodYearBlocks:
		return "year"
	}
	return "custom"
}
