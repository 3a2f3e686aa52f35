package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/2ndtlmining/fluxrevenue/controllers"
)

const (
	queryParamDays      = "days"
	queryParamAddresses = "addresses"
	queryParamAddress   = "address"
	queryParamBreakdown = "breakdown"
	queryParamBlocks    = "blocks"
	queryParamPage      = "page"
	queryParamLimit     = "limit"
	queryParamSearch    = "search"
)

const (
	defaultTransactionsLimit = 100
	defaultBackfillLimit     = 100
)

func makeHandler(handler func(queryParams map[string][]string) (interface{}, *controllers.HandlerError)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		response, hErr := handler(r.URL.Query())
		if hErr != nil {
			sendErr(w, hErr)
			return
		}
		sendJSONResponse(w, response)
	}
}

func sendErr(w http.ResponseWriter, hErr *controllers.HandlerError) {
	log.Warnf("got error: %s", hErr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(hErr.Code)
	sendJSONResponse(w, hErr)
}

func sendJSONResponse(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(response)
	if err != nil {
		log.Errorf("Error writing JSON response: %s", err)
	}
}

func mainHandler(_ map[string][]string) (interface{}, *controllers.HandlerError) {
	return "Flux revenue indexer is running", nil
}

func addRoutes(router *mux.Router) {
	router.HandleFunc("/", makeHandler(mainHandler))

	router.HandleFunc("/api/tip", makeHandler(func(_ map[string][]string) (interface{}, *controllers.HandlerError) {
		return controllers.GetTipHandler()
	})).Methods("GET")

	router.HandleFunc("/api/sync/status", makeHandler(func(_ map[string][]string) (interface{}, *controllers.HandlerError) {
		return controllers.GetSyncStatusHandler()
	})).Methods("GET")

	router.HandleFunc("/api/sync/trigger", makeHandler(func(_ map[string][]string) (interface{}, *controllers.HandlerError) {
		return controllers.TriggerSyncHandler()
	})).Methods("POST")

	router.HandleFunc("/api/sync/backfill", makeHandler(backfillHandler)).Methods("POST")
	router.HandleFunc("/api/revenue", makeHandler(revenueHandler)).Methods("GET")
	router.HandleFunc("/api/revenue/blocks", makeHandler(revenueByBlocksHandler)).Methods("GET")
	router.HandleFunc("/api/transactions", makeHandler(transactionsHandler)).Methods("GET")

	router.HandleFunc("/api/network/stats", makeHandler(func(_ map[string][]string) (interface{}, *controllers.HandlerError) {
		return controllers.GetNetworkStatsHandler()
	})).Methods("GET")

	router.HandleFunc("/api/balance", makeHandler(balanceHandler)).Methods("GET")
}

// singleQueryParam extracts an optional scalar query parameter, rejecting
// repeated values.
func singleQueryParam(queryParams map[string][]string, name string) (string, bool, *controllers.HandlerError) {
	values := queryParams[name]
	if len(values) > 1 {
		return "", false, controllers.NewHandlerError(http.StatusUnprocessableEntity,
			fmt.Sprintf("Couldn't parse the '%s' query parameter: expected a single value but got an array", name))
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return values[0], true, nil
}

func intQueryParam(queryParams map[string][]string, name string, defaultValue int) (int, *controllers.HandlerError) {
	raw, found, hErr := singleQueryParam(queryParams, name)
	if hErr != nil {
		return 0, hErr
	}
	if !found {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, controllers.NewHandlerError(http.StatusUnprocessableEntity,
			fmt.Sprintf("Couldn't parse the '%s' query parameter: %s", name, err))
	}
	return value, nil
}

func backfillHandler(queryParams map[string][]string) (interface{}, *controllers.HandlerError) {
	limit, hErr := intQueryParam(queryParams, queryParamLimit, defaultBackfillLimit)
	if hErr != nil {
		return nil, hErr
	}
	return controllers.TriggerBackfillHandler(limit)
}

func revenueHandler(queryParams map[string][]string) (interface{}, *controllers.HandlerError) {
	days, hErr := intQueryParam(queryParams, queryParamDays, 7)
	if hErr != nil {
		return nil, hErr
	}

	rawAddresses, found, hErr := singleQueryParam(queryParams, queryParamAddresses)
	if hErr != nil {
		return nil, hErr
	}
	var addresses []string
	if found && rawAddresses != "" {
		addresses = strings.Split(rawAddresses, ",")
	}

	rawBreakdown, _, hErr := singleQueryParam(queryParams, queryParamBreakdown)
	if hErr != nil {
		return nil, hErr
	}
	breakdown := rawBreakdown == "true" || rawBreakdown == "1"

	return controllers.GetRevenueHandler(days, addresses, breakdown)
}

func revenueByBlocksHandler(queryParams map[string][]string) (interface{}, *controllers.HandlerError) {
	blocks, hErr := intQueryParam(queryParams, queryParamBlocks, 720)
	if hErr != nil {
		return nil, hErr
	}
	address, _, hErr := singleQueryParam(queryParams, queryParamAddress)
	if hErr != nil {
		return nil, hErr
	}
	return controllers.GetRevenueByBlocksHandler(int64(blocks), address)
}

func transactionsHandler(queryParams map[string][]string) (interface{}, *controllers.HandlerError) {
	address, _, hErr := singleQueryParam(queryParams, queryParamAddress)
	if hErr != nil {
		return nil, hErr
	}
	page, hErr := intQueryParam(queryParams, queryParamPage, 1)
	if hErr != nil {
		return nil, hErr
	}
	limit, hErr := intQueryParam(queryParams, queryParamLimit, defaultTransactionsLimit)
	if hErr != nil {
		return nil, hErr
	}
	search, _, hErr := singleQueryParam(queryParams, queryParamSearch)
	if hErr != nil {
		return nil, hErr
	}
	return controllers.GetTransactionsHandler(address, page, limit, search)
}

func balanceHandler(queryParams map[string][]string) (interface{}, *controllers.HandlerError) {
	address, _, hErr := singleQueryParam(queryParams, queryParamAddress)
	if hErr != nil {
		return nil, hErr
	}
	return controllers.GetBalanceHandler(address)
}
