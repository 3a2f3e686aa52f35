package syncd

import (
	"fmt"
	"sort"
	"testing"

	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/chainclient"
	"github.com/2ndtlmining/fluxrevenue/config"
	"github.com/2ndtlmining/fluxrevenue/models"
	"github.com/2ndtlmining/fluxrevenue/store"
)

const testAddress = "tWATCHED"

// fakeChain serves synthetic blocks: every height carries one payment of 1.0
// to the watched address, sent from an outpoint the client can resolve.
type fakeChain struct {
	tip         int64
	blockTime   func(height int64) int64
	failHeights map[int64]bool
	senders     map[string]string
	fetched     []int64
}

func newFakeChain(tip int64) *fakeChain {
	return &fakeChain{
		tip:         tip,
		blockTime:   func(height int64) int64 { return 1700000000 + height*120 },
		failHeights: make(map[int64]bool),
		senders:     map[string]string{"prevtx:0": "tSENDER"},
	}
}

func (c *fakeChain) Tip() (int64, error) {
	if c.tip < 0 {
		return 0, errors.New("tip unavailable")
	}
	return c.tip, nil
}

func (c *fakeChain) FetchBlocks(heights []int64) []chainclient.BlockResult {
	results := make([]chainclient.BlockResult, len(heights))
	for i, height := range heights {
		c.fetched = append(c.fetched, height)
		if c.failHeights[height] {
			results[i] = chainclient.BlockResult{Height: height, Err: errors.New("fetch failed")}
			continue
		}
		results[i] = chainclient.BlockResult{Height: height, Block: c.blockAt(height)}
	}
	return results
}

func (c *fakeChain) blockAt(height int64) *chainclient.Block {
	return &chainclient.Block{
		Hash:   fmt.Sprintf("hash%d", height),
		Height: height,
		Time:   c.blockTime(height),
		Tx: []chainclient.Tx{
			{
				TxID: fmt.Sprintf("coinbase%d", height),
				Vin:  []chainclient.Vin{{Coinbase: "03aabb"}},
				Vout: []chainclient.Vout{{Value: 37.5, N: 0,
					ScriptPubKey: chainclient.ScriptPubKey{Addresses: []string{"tMINER"}}}},
			},
			{
				TxID: fmt.Sprintf("tx%d", height),
				Vin:  []chainclient.Vin{{TxID: "prevtx", Vout: 0}},
				Vout: []chainclient.Vout{{Value: 1.0, N: 0,
					ScriptPubKey: chainclient.ScriptPubKey{Addresses: []string{testAddress}}}},
			},
		},
	}
}

func (c *fakeChain) ResolveSender(prevTxID string, voutIndex int) string {
	address, ok := c.senders[fmt.Sprintf("%s:%d", prevTxID, voutIndex)]
	if !ok {
		return chainclient.UnknownAddress
	}
	return address
}

type txKey struct {
	txHash    string
	voutIndex int
	address   string
}

// fakeStore is an in-memory stand-in with insert-or-ignore semantics.
type fakeStore struct {
	blocks map[int64]*models.Block
	txs    map[txKey]*models.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blocks: make(map[int64]*models.Block),
		txs:    make(map[txKey]*models.Transaction),
	}
}

func (s *fakeStore) Frontier() (*store.Frontier, error) {
	frontier := &store.Frontier{Count: int64(len(s.blocks))}
	for height := range s.blocks {
		height := height
		if frontier.Highest == nil || height > *frontier.Highest {
			frontier.Highest = &height
		}
		if frontier.Lowest == nil || height < *frontier.Lowest {
			frontier.Lowest = &height
		}
	}
	return frontier, nil
}

func (s *fakeStore) BatchInsert(blocks []*models.Block, transactions []*models.Transaction) (int64, int64, error) {
	var insertedBlocks, insertedTxs int64
	for _, block := range blocks {
		if _, exists := s.blocks[block.Height]; exists {
			continue
		}
		s.blocks[block.Height] = block
		insertedBlocks++
	}
	for _, transaction := range transactions {
		key := txKey{transaction.TxHash, transaction.VoutIndex, transaction.Address}
		if _, exists := s.txs[key]; exists {
			continue
		}
		s.txs[key] = transaction
		insertedTxs++
	}
	return insertedBlocks, insertedTxs, nil
}

func (s *fakeStore) MissingHeights(from, to int64) ([]int64, error) {
	var missing []int64
	for height := from; height <= to; height++ {
		if _, exists := s.blocks[height]; !exists {
			missing = append(missing, height)
		}
	}
	return missing, nil
}

func (s *fakeStore) BlockTimestamp(height int64) (int64, bool, error) {
	block, exists := s.blocks[height]
	if !exists {
		return 0, false, nil
	}
	return block.Timestamp, true, nil
}

func (s *fakeStore) PruneBelow(cutoffTimestamp int64) (int64, int64, error) {
	var prunedBlocks, prunedTxs int64
	for key, transaction := range s.txs {
		if transaction.Timestamp < cutoffTimestamp {
			delete(s.txs, key)
			prunedTxs++
		}
	}
	for height, block := range s.blocks {
		if block.Timestamp < cutoffTimestamp {
			delete(s.blocks, height)
			prunedBlocks++
		}
	}
	return prunedBlocks, prunedTxs, nil
}

func (s *fakeStore) BackfillSender(txHash string, blockHeight int64, voutIndex int, fromAddress string) (bool, error) {
	for key, transaction := range s.txs {
		if key.txHash == txHash && key.voutIndex == voutIndex &&
			transaction.BlockHeight == blockHeight && transaction.FromAddress == nil {
			address := fromAddress
			transaction.FromAddress = &address
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UnresolvedSenders(limit int) ([]*models.Transaction, error) {
	var unresolved []*models.Transaction
	for _, transaction := range s.txs {
		if transaction.FromAddress == nil {
			unresolved = append(unresolved, transaction)
		}
	}
	sort.Slice(unresolved, func(i, j int) bool {
		return unresolved[i].BlockHeight < unresolved[j].BlockHeight
	})
	if len(unresolved) > limit {
		unresolved = unresolved[:limit]
	}
	return unresolved, nil
}

func (s *fakeStore) storedHeights() []int64 {
	heights := make([]int64, 0, len(s.blocks))
	for height := range s.blocks {
		heights = append(heights, height)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

func engineConfig() *config.Config {
	return &config.Config{
		Addresses:        []string{testAddress},
		MaxBlocksPerSync: 1000,
		BatchSize:        10,
		MaxConcurrent:    5,
		RetentionDays:    2,
		BlocksPerDay:     20,
		GapFillThreshold: 95,
	}
}

func TestRunCycleFirstRun(t *testing.T) {
	chain := newFakeChain(100)
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	metrics, err := engine.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle: unexpected error: %s", err)
	}

	// Initial sync target is tip minus one day of blocks.
	if metrics.InsertedBlocks != 21 {
		t.Errorf("RunCycle: expected 21 inserted blocks but got %d", metrics.InsertedBlocks)
	}
	if metrics.InsertedTxs != 21 {
		t.Errorf("RunCycle: expected 21 inserted transactions but got %d", metrics.InsertedTxs)
	}
	heights := engineStore.storedHeights()
	if heights[0] != 80 || heights[len(heights)-1] != 100 {
		t.Errorf("RunCycle: expected stored range [80..100] but got [%d..%d]",
			heights[0], heights[len(heights)-1])
	}

	status := engine.Status()
	if status.IsFirstRun {
		t.Errorf("RunCycle: expected first-run flag to clear after the cycle")
	}
	if !status.HasCompletedInitialSync {
		t.Errorf("RunCycle: expected initial sync to be marked complete")
	}
	if !status.IsOnline {
		t.Errorf("RunCycle: expected online status after a successful cycle")
	}
}

func TestRunCycleBackwardThenComplete(t *testing.T) {
	chain := newFakeChain(100)
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	// Cycle 1: forward from the initial target. Cycle 2: backward to the
	// retention floor. Cycle 3: nothing left but gap detection.
	for i := 0; i < 2; i++ {
		if _, err := engine.RunCycle(); err != nil {
			t.Fatalf("RunCycle %d: unexpected error: %s", i+1, err)
		}
	}

	heights := engineStore.storedHeights()
	if len(heights) != 41 || heights[0] != 60 || heights[len(heights)-1] != 100 {
		t.Fatalf("RunCycle: expected full range [60..100] after two cycles but got %d heights [%d..%d]",
			len(heights), heights[0], heights[len(heights)-1])
	}

	metrics, err := engine.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle 3: unexpected error: %s", err)
	}
	if metrics.InsertedBlocks != 0 {
		t.Errorf("RunCycle 3: expected no inserts on a complete index but got %d", metrics.InsertedBlocks)
	}
	if metrics.Message != "No new blocks" {
		t.Errorf("RunCycle 3: expected 'No new blocks' message but got %q", metrics.Message)
	}
	if !engine.Status().IsComplete {
		t.Errorf("RunCycle 3: expected the index to report complete")
	}
}

func TestRunCycleIdempotentReSync(t *testing.T) {
	chain := newFakeChain(100)
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	first, err := engine.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle: unexpected error: %s", err)
	}

	// Re-process the exact same heights through the commit path: nothing
	// new may be inserted and nothing may error.
	metrics := &CycleMetrics{}
	inserted, failed := engine.processBatch(engineStore.storedHeights(), metrics)
	if failed != 0 {
		t.Errorf("processBatch: unexpected failures on re-sync: %d", failed)
	}
	if inserted != first.InsertedBlocks {
		t.Errorf("processBatch: expected %d processed blocks but got %d", first.InsertedBlocks, inserted)
	}
	if metrics.InsertedBlocks != 0 || metrics.InsertedTxs != 0 {
		t.Errorf("processBatch: re-sync inserted %d blocks and %d transactions, expected none",
			metrics.InsertedBlocks, metrics.InsertedTxs)
	}
}

func TestRunCycleFillsGaps(t *testing.T) {
	chain := newFakeChain(100)
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	// Pre-seed the full retention window except two holes.
	for height := int64(60); height <= 100; height++ {
		if height == 75 || height == 90 {
			continue
		}
		engineStore.blocks[height] = &models.Block{
			Height: height, Timestamp: 1700000000 + height*120, Hash: fmt.Sprintf("hash%d", height),
		}
	}

	metrics, err := engine.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle: unexpected error: %s", err)
	}
	if metrics.GapsFilled != 2 {
		t.Errorf("RunCycle: expected 2 gaps filled but got %d", metrics.GapsFilled)
	}
	if _, exists := engineStore.blocks[75]; !exists {
		t.Errorf("RunCycle: expected height 75 to be filled")
	}
	if _, exists := engineStore.blocks[90]; !exists {
		t.Errorf("RunCycle: expected height 90 to be filled")
	}
	if !engine.Status().IsComplete {
		t.Errorf("RunCycle: expected the index to report complete after gap fill")
	}
}

func TestRunCycleFetchFailureDoesNotWedge(t *testing.T) {
	chain := newFakeChain(100)
	chain.failHeights[85] = true
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	metrics, err := engine.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle: unexpected error: %s", err)
	}
	if metrics.Failed != 1 {
		t.Errorf("RunCycle: expected 1 failed height but got %d", metrics.Failed)
	}
	if metrics.InsertedBlocks != 20 {
		t.Errorf("RunCycle: expected 20 inserted blocks around the failure but got %d", metrics.InsertedBlocks)
	}
	if _, exists := engineStore.blocks[85]; exists {
		t.Errorf("RunCycle: failed height must not be stored")
	}
	if _, exists := engineStore.blocks[86]; !exists {
		t.Errorf("RunCycle: heights after the failure must still be stored")
	}
}

func TestRunCycleTipErrorAborts(t *testing.T) {
	chain := newFakeChain(-1)
	engine := New(engineConfig(), chain, newFakeStore())

	_, err := engine.RunCycle()
	if err == nil {
		t.Fatalf("RunCycle: expected an error when the tip is unavailable")
	}
	status := engine.Status()
	if status.IsOnline {
		t.Errorf("RunCycle: expected offline status after a tip failure")
	}
	if status.LastSyncMessage == "" {
		t.Errorf("RunCycle: expected a failure message on the status board")
	}
}

func TestRunCycleReEntry(t *testing.T) {
	engine := New(engineConfig(), newFakeChain(100), newFakeStore())
	engine.running = 1

	_, err := engine.RunCycle()
	if err != ErrCycleInProgress {
		t.Fatalf("RunCycle: expected ErrCycleInProgress but got %v", err)
	}
}

func TestRunCycleStoresResolvedSenders(t *testing.T) {
	chain := newFakeChain(100)
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	if _, err := engine.RunCycle(); err != nil {
		t.Fatalf("RunCycle: unexpected error: %s", err)
	}

	transaction, exists := engineStore.txs[txKey{"tx90", 0, testAddress}]
	if !exists {
		t.Fatalf("RunCycle: expected transaction tx90 to be stored")
	}
	if transaction.FromAddress == nil || *transaction.FromAddress != "tSENDER" {
		t.Errorf("RunCycle: expected resolved sender tSENDER but got %v", transaction.FromAddress)
	}
}

func TestRunCycleUnresolvableSenderStoredAsNull(t *testing.T) {
	chain := newFakeChain(100)
	chain.senders = map[string]string{}
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	if _, err := engine.RunCycle(); err != nil {
		t.Fatalf("RunCycle: unexpected error: %s", err)
	}

	transaction, exists := engineStore.txs[txKey{"tx90", 0, testAddress}]
	if !exists {
		t.Fatalf("RunCycle: expected transaction tx90 to be stored")
	}
	if transaction.FromAddress != nil {
		t.Errorf("RunCycle: expected NULL sender but got %q", *transaction.FromAddress)
	}
}

func TestRunCyclePrunesExpiredBlocks(t *testing.T) {
	chain := newFakeChain(100)
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	// A stored block far older than the retention cutoff, plus the current
	// window so the plan has nothing left to sync.
	staleTimestamp := chain.blockTime(100) - 3*86400
	engineStore.blocks[60] = &models.Block{Height: 60, Timestamp: staleTimestamp, Hash: "stale"}
	engineStore.txs[txKey{"staletx", 0, testAddress}] = &models.Transaction{
		BlockHeight: 60, TxHash: "staletx", Address: testAddress, Timestamp: staleTimestamp,
	}
	for height := int64(61); height <= 100; height++ {
		engineStore.blocks[height] = &models.Block{
			Height: height, Timestamp: chain.blockTime(height), Hash: fmt.Sprintf("hash%d", height),
		}
	}

	metrics, err := engine.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle: unexpected error: %s", err)
	}
	if metrics.PrunedBlocks != 1 || metrics.PrunedTxs != 1 {
		t.Errorf("RunCycle: expected 1 pruned block and 1 pruned transaction but got %d and %d",
			metrics.PrunedBlocks, metrics.PrunedTxs)
	}
	if _, exists := engineStore.blocks[60]; exists {
		t.Errorf("RunCycle: expected the stale block to be pruned")
	}
}

func TestBackfillSenders(t *testing.T) {
	chain := newFakeChain(100)
	engineStore := newFakeStore()
	engine := New(engineConfig(), chain, engineStore)

	engineStore.blocks[70] = &models.Block{Height: 70, Timestamp: chain.blockTime(70), Hash: "hash70"}
	engineStore.txs[txKey{"tx70", 0, testAddress}] = &models.Transaction{
		BlockHeight: 70, TxHash: "tx70", VoutIndex: 0, Address: testAddress,
		Value: 1.0, Timestamp: chain.blockTime(70),
	}

	updated, err := engine.BackfillSenders(100)
	if err != nil {
		t.Fatalf("BackfillSenders: unexpected error: %s", err)
	}
	if updated != 1 {
		t.Fatalf("BackfillSenders: expected 1 updated row but got %d", updated)
	}
	transaction := engineStore.txs[txKey{"tx70", 0, testAddress}]
	if transaction.FromAddress == nil || *transaction.FromAddress != "tSENDER" {
		t.Errorf("BackfillSenders: expected sender tSENDER but got %v", transaction.FromAddress)
	}
}

func TestBackfillSendersNothingToDo(t *testing.T) {
	engine := New(engineConfig(), newFakeChain(100), newFakeStore())
	updated, err := engine.BackfillSenders(100)
	if err != nil {
		t.Fatalf("BackfillSenders: unexpected error: %s", err)
	}
	if updated != 0 {
		t.Errorf("BackfillSenders: expected no updates on an empty store but got %d", updated)
	}
}
