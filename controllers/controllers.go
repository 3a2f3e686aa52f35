package controllers

import (
	"fmt"
	"net/http"

	"github.com/2ndtlmining/fluxrevenue/aggregator"
	"github.com/2ndtlmining/fluxrevenue/chainclient"
	"github.com/2ndtlmining/fluxrevenue/store"
	"github.com/2ndtlmining/fluxrevenue/syncd"
)

const (
	maximumTransactionsLimit = 1000
	maximumRevenueDays       = 365
)

var (
	engine       *syncd.Engine
	revenueAgg   *aggregator.Aggregator
	client       *chainclient.Client
	revenueStore *store.Store
)

// Init wires the controllers to the core components. It must be called
// before the HTTP server starts serving.
func Init(syncEngine *syncd.Engine, agg *aggregator.Aggregator, chainClient *chainclient.Client, s *store.Store) {
	engine = syncEngine
	revenueAgg = agg
	client = chainClient
	revenueStore = s
}

// GetTipHandler returns the current tip height reported by the chain API.
func GetTipHandler() (interface{}, *HandlerError) {
	tip, err := client.Tip()
	if err != nil {
		return nil, NewHandlerError(http.StatusBadGateway, fmt.Sprintf("Could not read tip: %s", err))
	}
	return map[string]int64{"height": tip}, nil
}

// GetSyncStatusHandler returns a consistent snapshot of sync progress.
func GetSyncStatusHandler() (interface{}, *HandlerError) {
	return engine.Status(), nil
}

// TriggerSyncHandler starts a sync cycle unless one is already running.
// Re-triggering is not an error.
func TriggerSyncHandler() (interface{}, *HandlerError) {
	if engine.IsRunning() {
		return map[string]string{"result": "already running"}, nil
	}
	spawn(func() {
		_, err := engine.RunCycle()
		if err != nil && err != syncd.ErrCycleInProgress {
			log.Errorf("Triggered sync cycle failed: %s", err)
		}
	})
	return map[string]string{"result": "sync started"}, nil
}

// TriggerBackfillHandler resolves senders for up to limit stored
// transactions that have none.
func TriggerBackfillHandler(limit int) (interface{}, *HandlerError) {
	if limit <= 0 || limit > maximumTransactionsLimit {
		return nil, NewHandlerError(http.StatusUnprocessableEntity,
			fmt.Sprintf("limit must be within [1, %d]", maximumTransactionsLimit))
	}
	updated, err := engine.BackfillSenders(limit)
	if err != nil {
		return nil, NewInternalServerHandlerError(fmt.Sprintf("Backfill failed: %s", err))
	}
	return map[string]int{"updated": updated}, nil
}

// GetRevenueHandler returns the calendar-time revenue series.
func GetRevenueHandler(days int, addresses []string, breakdown bool) (interface{}, *HandlerError) {
	if days <= 0 || days > maximumRevenueDays {
		return nil, NewHandlerError(http.StatusUnprocessableEntity,
			fmt.Sprintf("days must be within [1, %d]", maximumRevenueDays))
	}
	report, err := revenueAgg.Revenue(days, addresses, breakdown)
	if err != nil {
		return nil, NewInternalServerHandlerError(fmt.Sprintf("Could not aggregate revenue: %s", err))
	}
	return report, nil
}

// GetRevenueByBlocksHandler returns revenue over a trailing block range.
func GetRevenueByBlocksHandler(blocks int64, address string) (interface{}, *HandlerError) {
	if blocks <= 0 {
		return nil, NewHandlerError(http.StatusUnprocessableEntity, "blocks must be positive")
	}
	report, err := revenueAgg.RevenueByBlocks(blocks, address)
	if err != nil {
		return nil, NewInternalServerHandlerError(fmt.Sprintf("Could not aggregate revenue: %s", err))
	}
	return report, nil
}

// GetTransactionsHandler returns one page of stored payments.
func GetTransactionsHandler(address string, page, limit int, search string) (interface{}, *HandlerError) {
	if limit > maximumTransactionsLimit {
		return nil, NewHandlerError(http.StatusUnprocessableEntity,
			fmt.Sprintf("The maximum allowed value for the limit is %d", maximumTransactionsLimit))
	}
	pageResult, err := revenueAgg.Transactions(address, page, limit, search)
	if err != nil {
		return nil, NewInternalServerHandlerError(fmt.Sprintf("Could not list transactions: %s", err))
	}
	return pageResult, nil
}

// GetNetworkStatsHandler returns the live combined network view together
// with the latest stored snapshots.
func GetNetworkStatsHandler() (interface{}, *HandlerError) {
	combined, source, err := client.CombinedNetworkStats()
	if err != nil {
		log.Warnf("Could not fetch combined network stats: %s", err)
	}

	nodeSnapshot, err := revenueStore.LatestNodeStats()
	if err != nil {
		return nil, NewInternalServerHandlerError(fmt.Sprintf("Could not read node stats: %s", err))
	}
	utilizationSnapshot, err := revenueStore.LatestUtilizationStats()
	if err != nil {
		return nil, NewInternalServerHandlerError(fmt.Sprintf("Could not read utilization stats: %s", err))
	}

	return map[string]interface{}{
		"live":                combined,
		"dataSource":          source,
		"nodeSnapshot":        nodeSnapshot,
		"utilizationSnapshot": utilizationSnapshot,
	}, nil
}

// GetBalanceHandler returns the live balance of an address in coins.
func GetBalanceHandler(address string) (interface{}, *HandlerError) {
	if address == "" {
		return nil, NewHandlerError(http.StatusUnprocessableEntity, "address is required")
	}
	balance, err := client.Balance(address)
	if err != nil {
		return nil, NewHandlerError(http.StatusBadGateway, fmt.Sprintf("Could not read balance: %s", err))
	}
	return map[string]interface{}{"address": address, "balance": balance}, nil
}
