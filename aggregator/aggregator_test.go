package aggregator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"

	"github.com/2ndtlmining/fluxrevenue/config"
	"github.com/2ndtlmining/fluxrevenue/models"
	"github.com/2ndtlmining/fluxrevenue/store"
)

func openTestAggregator(t *testing.T, addresses ...string) (*Aggregator, *store.Store) {
	t.Helper()

	db, err := gorm.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("could not open test database: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	db.LogMode(false)

	schema, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("could not read schema: %s", err)
	}
	err = db.Exec(string(schema)).Error
	if err != nil {
		t.Fatalf("could not apply schema: %s", err)
	}

	revenueStore := store.New(db)
	cfg := &config.Config{Addresses: addresses}
	return New(cfg, revenueStore), revenueStore
}

func seedPayments(t *testing.T, revenueStore *store.Store, transactions []*models.Transaction) {
	t.Helper()

	blockSet := make(map[int64]bool)
	var blocks []*models.Block
	for _, transaction := range transactions {
		if blockSet[transaction.BlockHeight] {
			continue
		}
		blockSet[transaction.BlockHeight] = true
		blocks = append(blocks, &models.Block{
			Height:    transaction.BlockHeight,
			Timestamp: transaction.Timestamp,
			Hash:      "h",
		})
	}
	_, _, err := revenueStore.BatchInsert(blocks, transactions)
	if err != nil {
		t.Fatalf("could not seed payments: %s", err)
	}
}

func TestRevenueMergesAddresses(t *testing.T) {
	agg, revenueStore := openTestAggregator(t, "tADDR1", "tADDR2")

	now := time.Now().Unix()
	yesterday := now - 86400
	seedPayments(t, revenueStore, []*models.Transaction{
		{BlockHeight: 10, TxHash: "tx1", VoutIndex: 0, Address: "tADDR1", Value: 1, Timestamp: yesterday},
		{BlockHeight: 11, TxHash: "tx2", VoutIndex: 0, Address: "tADDR2", Value: 2, Timestamp: yesterday},
		{BlockHeight: 12, TxHash: "tx3", VoutIndex: 0, Address: "tADDR1", Value: 4, Timestamp: now},
	})

	report, err := agg.Revenue(7, nil, false)
	if err != nil {
		t.Fatalf("Revenue: unexpected error: %s", err)
	}
	if report.Total != 7 || report.Count != 3 {
		t.Errorf("Revenue: expected total (7, 3) but got (%f, %d)", report.Total, report.Count)
	}
	if len(report.Addresses) != 2 {
		t.Errorf("Revenue: expected the watched set as default but got %v", report.Addresses)
	}

	// Both addresses' payments on the same day merge into one entry, and
	// the series is ascending by date.
	if len(report.Daily) != 2 {
		t.Fatalf("Revenue: expected 2 merged days but got %d", len(report.Daily))
	}
	if report.Daily[0].Date >= report.Daily[1].Date {
		t.Errorf("Revenue: expected ascending dates but got %s, %s",
			report.Daily[0].Date, report.Daily[1].Date)
	}
	if report.Daily[0].Total != 3 || report.Daily[0].Count != 2 {
		t.Errorf("Revenue: expected merged first day (3, 2) but got (%f, %d)",
			report.Daily[0].Total, report.Daily[0].Count)
	}
	if report.Breakdown != nil {
		t.Errorf("Revenue: expected no breakdown unless requested")
	}
}

func TestRevenueBreakdown(t *testing.T) {
	agg, revenueStore := openTestAggregator(t, "tADDR1", "tADDR2")

	now := time.Now().Unix()
	seedPayments(t, revenueStore, []*models.Transaction{
		{BlockHeight: 10, TxHash: "tx1", VoutIndex: 0, Address: "tADDR1", Value: 1, Timestamp: now},
		{BlockHeight: 11, TxHash: "tx2", VoutIndex: 0, Address: "tADDR2", Value: 2, Timestamp: now},
	})

	report, err := agg.Revenue(7, nil, true)
	if err != nil {
		t.Fatalf("Revenue: unexpected error: %s", err)
	}
	if len(report.Breakdown) != 2 {
		t.Fatalf("Revenue: expected a 2-address breakdown but got %d", len(report.Breakdown))
	}
	if report.Breakdown[0].Address != "tADDR1" || report.Breakdown[0].Total != 1 {
		t.Errorf("Revenue: unexpected first breakdown entry %+v", report.Breakdown[0])
	}
}

func TestRevenueRejectsNonPositiveDays(t *testing.T) {
	agg, _ := openTestAggregator(t, "tADDR1")
	_, err := agg.Revenue(0, nil, false)
	if err == nil {
		t.Fatalf("Revenue: expected an error for zero days")
	}
}

func TestRevenueByBlocks(t *testing.T) {
	agg, revenueStore := openTestAggregator(t, "tADDR1", "tADDR2")

	seedPayments(t, revenueStore, []*models.Transaction{
		{BlockHeight: 1000, TxHash: "tx1", VoutIndex: 0, Address: "tADDR1", Value: 1, Timestamp: 1000},
		{BlockHeight: 1500, TxHash: "tx2", VoutIndex: 0, Address: "tADDR2", Value: 2, Timestamp: 1500},
		{BlockHeight: 2000, TxHash: "tx3", VoutIndex: 0, Address: "tADDR1", Value: 4, Timestamp: 2000},
	})

	report, err := agg.RevenueByBlocks(PeriodDayBlocks, "")
	if err != nil {
		t.Fatalf("RevenueByBlocks: unexpected error: %s", err)
	}
	if report.Period != "day" {
		t.Errorf("RevenueByBlocks: expected period 'day' but got %s", report.Period)
	}
	if report.EndHeight != 2000 || report.StartHeight != 2000-PeriodDayBlocks {
		t.Errorf("RevenueByBlocks: unexpected range [%d..%d]", report.StartHeight, report.EndHeight)
	}
	// Only the payments inside the trailing 720 blocks count.
	if report.Total != 6 || report.Count != 2 {
		t.Errorf("RevenueByBlocks: expected (6, 2) but got (%f, %d)", report.Total, report.Count)
	}
	if len(report.Breakdown) != 2 {
		t.Errorf("RevenueByBlocks: expected a per-address breakdown for the watched set")
	}

	// A single address narrows the report and drops the breakdown.
	report, err = agg.RevenueByBlocks(PeriodDayBlocks, "tADDR1")
	if err != nil {
		t.Fatalf("RevenueByBlocks: unexpected error: %s", err)
	}
	if report.Total != 4 || report.Count != 1 || report.Breakdown != nil {
		t.Errorf("RevenueByBlocks: unexpected single-address report %+v", report)
	}
}

func TestRevenueByBlocksEmptyStore(t *testing.T) {
	agg, _ := openTestAggregator(t, "tADDR1")

	report, err := agg.RevenueByBlocks(PeriodWeekBlocks, "")
	if err != nil {
		t.Fatalf("RevenueByBlocks: unexpected error: %s", err)
	}
	if report.Total != 0 || report.Count != 0 || report.Period != "week" {
		t.Errorf("RevenueByBlocks: expected an empty week report but got %+v", report)
	}
}

func TestDescribePeriod(t *testing.T) {
	tests := []struct {
		blocks   int64
		expected string
	}{
		{PeriodDayBlocks, "day"},
		{PeriodWeekBlocks, "week"},
		{PeriodMonthBlocks, "month"},
		{PeriodYearBlocks, "year"},
		{1234, "custom"},
	}
	for _, test := range tests {
		if got := describePeriod(test.blocks); got != test.expected {
			t.Errorf("describePeriod(%d): expected %s but got %s", test.blocks, test.expected, got)
		}
	}
}

func TestTransactions(t *testing.T) {
	agg, revenueStore := openTestAggregator(t, "tADDR1")

	seedPayments(t, revenueStore, []*models.Transaction{
		{BlockHeight: 10, TxHash: "tx1", VoutIndex: 0, Address: "tADDR1", Value: 1, Timestamp: 100},
	})

	page, err := agg.Transactions("tADDR1", 1, 10, "")
	if err != nil {
		t.Fatalf("Transactions: unexpected error: %s", err)
	}
	if len(page.Transactions) != 1 || page.Pagination.Total != 1 {
		t.Errorf("Transactions: unexpected page %+v", page)
	}

	// An empty page still serializes as a list, not null.
	page, err = agg.Transactions("tOTHER", 1, 10, "")
	if err != nil {
		t.Fatalf("Transactions: unexpected error: %s", err)
	}
	if page.Transactions == nil || len(page.Transactions) != 0 {
		t.Errorf("Transactions: expected an empty list but got %+v", page.Transactions)
	}
}
