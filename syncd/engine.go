package syncd

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/analyzer"
	"github.com/2ndtlmining/fluxrevenue/chainclient"
	"github.com/2ndtlmining/fluxrevenue/config"
	"github.com/2ndtlmining/fluxrevenue/database"
	"github.com/2ndtlmining/fluxrevenue/models"
	"github.com/2ndtlmining/fluxrevenue/store"
)

// ErrCycleInProgress is returned when a cycle is requested while another one
// is still running. It is an expected condition, not a failure.
var ErrCycleInProgress = errors.New("sync already in progress")

// senderResolveFanOutCap bounds the sender resolution fan-out regardless of
// how high the client concurrency is configured.
const senderResolveFanOutCap = 15

// progressPublishEvery controls how often batch progress is pushed to the
// status board.
const progressPublishEvery = 2

// ChainClient is the part of the chain client the engine drives.
type ChainClient interface {
	Tip() (int64, error)
	FetchBlocks(heights []int64) []chainclient.BlockResult
	ResolveSender(prevTxID string, voutIndex int) string
}

// Store is the part of the store the engine writes through.
type Store interface {
	Frontier() (*store.Frontier, error)
	BatchInsert(blocks []*models.Block, transactions []*models.Transaction) (int64, int64, error)
	MissingHeights(from, to int64) ([]int64, error)
	BlockTimestamp(height int64) (int64, bool, error)
	PruneBelow(cutoffTimestamp int64) (int64, int64, error)
	BackfillSender(txHash string, blockHeight int64, voutIndex int, fromAddress string) (bool, error)
	UnresolvedSenders(limit int) ([]*models.Transaction, error)
}

// CycleMetrics summarizes what one sync cycle did.
type CycleMetrics struct {
	Planned        int64
	Processed      int64
	Failed         int64
	InsertedBlocks int64
	InsertedTxs    int64
	GapsFilled     int64
	PrunedBlocks   int64
	PrunedTxs      int64
	Duration       time.Duration
	Message        string
}

// Engine drives the cyclic synchronization of the block index: plan, fetch,
// analyze, resolve, commit, gap-fill, prune, publish. At most one cycle runs
// at a time; overlapping requests return ErrCycleInProgress immediately.
type Engine struct {
	cfg     *config.Config
	client  ChainClient
	store   Store
	watched map[string]struct{}

	running int32
	board   statusBoard
	rate    *rateCounter

	hasCompletedInitialSync int32
}

// New creates a sync engine.
func New(cfg *config.Config, client ChainClient, engineStore Store) *Engine {
	return &Engine{
		cfg:     cfg,
		client:  client,
		store:   engineStore,
		watched: cfg.WatchedSet(),
		rate:    newRateCounter(),
	}
}

// Status returns a consistent snapshot of the current sync status.
func (e *Engine) Status() Status {
	return e.board.snapshot()
}

// IsRunning reports whether a cycle is currently executing.
func (e *Engine) IsRunning() bool {
	return atomic.LoadInt32(&e.running) == 1
}

// Start runs sync cycles until doneChan is signalled. The inter-cycle delay
// is the configured sync interval; an in-progress cycle is never cut short.
func (e *Engine) Start(doneChan chan struct{}) error {
	log.Infof("Sync loop started: interval %s, budget %d blocks, %d watched addresses",
		e.cfg.SyncInterval, e.cfg.MaxBlocksPerSync, len(e.watched))

	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		_, err := e.RunCycle()
		if err != nil && err != ErrCycleInProgress {
			log.Errorf("Sync cycle failed: %s", err)
		}

		select {
		case <-doneChan:
			log.Infof("Sync loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle executes one full sync cycle. Re-entry while a cycle is running
// returns ErrCycleInProgress without touching engine state.
func (e *Engine) RunCycle() (*CycleMetrics, error) {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return nil, ErrCycleInProgress
	}
	defer atomic.StoreInt32(&e.running, 0)

	start := time.Now()
	e.board.update(func(s *Status) {
		s.IsSyncing = true
	})
	metrics, err := e.runCycle()
	if metrics == nil {
		metrics = &CycleMetrics{}
	}
	metrics.Duration = time.Since(start)

	e.board.update(func(s *Status) {
		s.IsSyncing = false
		s.LastCycleTime = time.Now().Unix()
		s.SyncRate = e.rate.rate()
		if err != nil {
			s.IsOnline = false
			s.LastSyncMessage = fmt.Sprintf("Sync failed: %s", err)
		} else {
			s.LastSyncMessage = metrics.Message
		}
	})
	return metrics, err
}

func (e *Engine) runCycle() (*CycleMetrics, error) {
	metrics := &CycleMetrics{}

	// 1. Tip. Without it no progress is possible, so this is the one
	// network error that aborts the cycle.
	tip, err := e.client.Tip()
	if err != nil {
		return metrics, errors.Wrap(err, "could not read tip")
	}

	// 2-3. Frontier and derived status.
	frontier, err := e.store.Frontier()
	if err != nil {
		return metrics, errors.Wrap(err, "could not read frontier")
	}
	view := e.deriveFrontierView(tip, frontier.Count, frontier.Highest, frontier.Lowest)
	e.publishView(view)

	// 4. Plan.
	cyclePlan := e.computePlan(view)
	metrics.Planned = cyclePlan.blocksToSync()
	log.Debugf("Cycle plan: priority=%s phases=%d blocks=%d progress=%.1f%%",
		cyclePlan.priority, len(cyclePlan.phases), metrics.Planned, view.progress)

	if metrics.Planned == 0 && !cyclePlan.needsGapFill {
		metrics.Message = "No new blocks"
		return metrics, nil
	}

	// 5. Execute phases in order; forward always precedes backward.
	for i := range cyclePlan.phases {
		e.executePhase(&cyclePlan.phases[i], metrics)
	}

	// 6. Gap detection near completion.
	var gapsRemaining int
	if cyclePlan.needsGapFill {
		gapsRemaining = e.fillGaps(view, metrics)
	}

	// 7. Retention sweep, anchored on the tip block's timestamp.
	e.prune(view, metrics)
	e.checkDatabaseSize()

	// 8. Publish the post-cycle picture.
	frontier, err = e.store.Frontier()
	if err != nil {
		return metrics, errors.Wrap(err, "could not re-read frontier")
	}
	view = e.deriveFrontierView(tip, frontier.Count, frontier.Highest, frontier.Lowest)
	e.publishView(view)

	if cyclePlan.priority == priorityInitial {
		atomic.StoreInt32(&e.hasCompletedInitialSync, 1)
	}
	isComplete := cyclePlan.needsGapFill && gapsRemaining == 0 && view.newRemaining == 0
	e.board.update(func(s *Status) {
		s.IsOnline = true
		s.IsComplete = isComplete
	})

	if metrics.Processed == 0 && metrics.GapsFilled == 0 {
		metrics.Message = "No new blocks"
	} else {
		metrics.Message = fmt.Sprintf("Synced %d blocks (%d payments) in %s priority",
			metrics.InsertedBlocks, metrics.InsertedTxs, cyclePlan.priority)
	}
	return metrics, nil
}

// executePhase chunks the phase's heights into batches and runs them
// sequentially: fetch in parallel, analyze, resolve senders, commit as one
// unit. A failed batch still advances the processed counter so a bad height
// cannot wedge the cycle; the next cycle's planner, and eventually gap
// detection, will revisit it.
func (e *Engine) executePhase(p *phase, metrics *CycleMetrics) {
	heights := p.heights()
	log.Infof("Executing %s phase: %d blocks [%d..%d]", p.direction, len(heights), p.start, p.end)

	batchCount := 0
	for offset := 0; offset < len(heights); offset += e.cfg.BatchSize {
		end := offset + e.cfg.BatchSize
		if end > len(heights) {
			end = len(heights)
		}
		batch := heights[offset:end]

		inserted, failed := e.processBatch(batch, metrics)
		metrics.Processed += int64(len(batch))
		metrics.Failed += failed
		e.rate.add(int(inserted))

		batchCount++
		if batchCount%progressPublishEvery == 0 || end == len(heights) {
			e.board.update(func(s *Status) {
				s.SyncRate = e.rate.rate()
				s.LastSyncMessage = fmt.Sprintf("Syncing %s: %d/%d blocks",
					p.direction, metrics.Processed, metrics.Planned)
			})
		}
	}
}

// processBatch fetches, analyzes, resolves, and commits one batch. Per-item
// fetch errors are collected without aborting the siblings.
func (e *Engine) processBatch(heights []int64, metrics *CycleMetrics) (inserted int64, failed int64) {
	results := e.client.FetchBlocks(heights)

	var blocks []*models.Block
	var payments []analyzer.Payment
	for _, result := range results {
		if result.Err != nil {
			log.Warnf("Could not fetch block %d: %s", result.Height, result.Err)
			failed++
			continue
		}
		blocks = append(blocks, &models.Block{
			Height:    result.Block.Height,
			Timestamp: result.Block.Time,
			Hash:      result.Block.Hash,
		})
		payments = append(payments, analyzer.AnalyzeBlock(result.Block, e.watched)...)
	}
	if len(blocks) == 0 {
		return 0, failed
	}

	e.resolveSenders(payments)

	transactions := make([]*models.Transaction, len(payments))
	for i := range payments {
		transactions[i] = paymentToModel(&payments[i])
	}

	insertedBlocks, insertedTxs, err := e.store.BatchInsert(blocks, transactions)
	if err != nil {
		log.Errorf("Could not commit batch of %d blocks: %s", len(blocks), err)
		failed += int64(len(blocks))
		return 0, failed
	}
	metrics.InsertedBlocks += insertedBlocks
	metrics.InsertedTxs += insertedTxs
	return int64(len(blocks)), failed
}

// resolveSenders maps unresolved senders to concrete addresses via the
// chain client, with a bounded fan-out.
func (e *Engine) resolveSenders(payments []analyzer.Payment) {
	fanOut := e.cfg.MaxConcurrent
	if fanOut > senderResolveFanOutCap {
		fanOut = senderResolveFanOutCap
	}
	semaphore := make(chan struct{}, fanOut)
	wg := &sync.WaitGroup{}

	for i := range payments {
		if payments[i].Sender.Kind != analyzer.SenderUnresolved {
			continue
		}
		i := i
		wg.Add(1)
		semaphore <- struct{}{}
		spawn(func() {
			defer wg.Done()
			defer func() { <-semaphore }()
			sender := &payments[i].Sender
			address := e.client.ResolveSender(sender.PrevTxID, sender.PrevVout)
			if address == chainclient.UnknownAddress {
				*sender = analyzer.Sender{Kind: analyzer.SenderUnknown}
				return
			}
			*sender = analyzer.Sender{Kind: analyzer.SenderInline, Address: address}
		})
	}
	wg.Wait()
}

// paymentToModel converts an analyzed payment into its stored row. A sender
// that is still unknown is stored as NULL so the backfill pass can find it
// later.
func paymentToModel(payment *analyzer.Payment) *models.Transaction {
	transaction := &models.Transaction{
		BlockHeight: payment.BlockHeight,
		TxHash:      payment.TxID,
		VoutIndex:   payment.VoutIndex,
		Address:     payment.Address,
		Value:       payment.Value,
		Timestamp:   payment.BlockTime,
	}
	if payment.Sender.Kind == analyzer.SenderInline {
		address := payment.Sender.Address
		transaction.FromAddress = &address
	}
	return transaction
}

// fillGaps re-scans two narrow ranges for missing heights: the last three
// days below tip and the seven days just below the lowest stored height.
// Returns how many gaps are still open after the pass.
func (e *Engine) fillGaps(view frontierView, metrics *CycleMetrics) (gapsRemaining int) {
	recentFrom := view.tip - 3*int64(e.cfg.BlocksPerDay)
	if recentFrom < view.targetLowest {
		recentFrom = view.targetLowest
	}
	missing, err := e.store.MissingHeights(recentFrom, view.tip)
	if err != nil {
		log.Errorf("Gap detection failed on recent range: %s", err)
		return 1
	}

	if view.lowest != nil {
		historicalFrom := *view.lowest - 7*int64(e.cfg.BlocksPerDay)
		if historicalFrom < view.targetLowest {
			historicalFrom = view.targetLowest
		}
		if historicalFrom < *view.lowest {
			historicalMissing, histErr := e.store.MissingHeights(historicalFrom, *view.lowest-1)
			if histErr != nil {
				log.Errorf("Gap detection failed on historical range: %s", histErr)
				return 1
			}
			missing = append(missing, historicalMissing...)
		}
	}

	if len(missing) == 0 {
		return 0
	}
	log.Infof("Gap detection found %d missing heights", len(missing))

	for offset := 0; offset < len(missing); offset += e.cfg.BatchSize {
		end := offset + e.cfg.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		before := metrics.InsertedBlocks
		_, failed := e.processBatch(missing[offset:end], metrics)
		metrics.GapsFilled += metrics.InsertedBlocks - before
		gapsRemaining += int(failed)
	}
	return gapsRemaining
}

// prune removes transactions and blocks that fell out of the retention
// window, anchored on the tip block's timestamp.
func (e *Engine) prune(view frontierView, metrics *CycleMetrics) {
	tipTimestamp, ok := e.tipTimestamp(view)
	if !ok {
		return
	}

	cutoff := tipTimestamp - int64(e.cfg.RetentionDays)*86400
	prunedBlocks, prunedTxs, err := e.store.PruneBelow(cutoff)
	if err != nil {
		log.Errorf("Retention sweep failed: %s", err)
		return
	}
	metrics.PrunedBlocks = prunedBlocks
	metrics.PrunedTxs = prunedTxs
	if prunedBlocks > 0 || prunedTxs > 0 {
		log.Infof("Retention sweep removed %d blocks and %d transactions", prunedBlocks, prunedTxs)
	}
}

// checkDatabaseSize warns when the database file has grown past the
// configured soft cap. The cap is advisory; retention is what actually
// bounds growth.
func (e *Engine) checkDatabaseSize() {
	sizeBytes, err := database.SizeBytes()
	if err != nil {
		return
	}
	sizeGB := float64(sizeBytes) / (1 << 30)
	if e.cfg.MaxDBSizeGB > 0 && sizeGB > e.cfg.MaxDBSizeGB {
		log.Warnf("Database size %.2fGB exceeds the %.2fGB soft cap; consider lowering retentiondays",
			sizeGB, e.cfg.MaxDBSizeGB)
	}
}

// tipTimestamp anchors the retention cutoff. The highest stored block is
// used as the tip's wall clock; when nothing is stored yet there is nothing
// to prune either.
func (e *Engine) tipTimestamp(view frontierView) (int64, bool) {
	if view.highest == nil {
		return 0, false
	}
	timestamp, found, err := e.store.BlockTimestamp(*view.highest)
	if err != nil {
		log.Errorf("Could not read tip timestamp: %s", err)
		return 0, false
	}
	if !found {
		return 0, false
	}
	return timestamp, true
}

// publishView pushes the derived frontier arithmetic to the status board.
func (e *Engine) publishView(view frontierView) {
	rate := e.rate.rate()
	remaining := view.newRemaining + view.historicalRemaining
	var eta int64
	if rate > 0 {
		eta = int64(float64(remaining) / rate)
	}
	completedInitial := atomic.LoadInt32(&e.hasCompletedInitialSync) == 1

	e.board.update(func(s *Status) {
		s.CurrentHeight = view.tip
		s.HighestSynced = view.highest
		s.LowestSynced = view.lowest
		s.TotalBlocksSynced = view.count
		s.TotalBlocksRemaining = remaining
		s.NewBlocksRemaining = view.newRemaining
		s.HistoricalBlocksRemaining = view.historicalRemaining
		s.SyncProgress = view.progress
		s.IsOnline = true
		s.IsFirstRun = view.highest == nil
		s.HasCompletedInitialSync = completedInitial || !s.IsFirstRun
		s.SyncRate = rate
		s.EstimatedTimeRemaining = eta
	})
}

// BackfillSenders resolves up to limit stored transactions whose sender is
// still NULL. Blocks are re-fetched once per height, re-analyzed to recover
// the provisional sender, and the resolution written back. Returns how many
// rows were updated.
func (e *Engine) BackfillSenders(limit int) (int, error) {
	unresolved, err := e.store.UnresolvedSenders(limit)
	if err != nil {
		return 0, err
	}
	if len(unresolved) == 0 {
		return 0, nil
	}

	// Group by height so each block body is fetched once.
	byHeight := make(map[int64][]*models.Transaction)
	heights := make([]int64, 0, len(unresolved))
	for _, transaction := range unresolved {
		if _, seen := byHeight[transaction.BlockHeight]; !seen {
			heights = append(heights, transaction.BlockHeight)
		}
		byHeight[transaction.BlockHeight] = append(byHeight[transaction.BlockHeight], transaction)
	}

	log.Infof("Backfilling senders for %d transactions across %d blocks", len(unresolved), len(heights))

	updated := 0
	results := e.client.FetchBlocks(heights)
	for _, result := range results {
		if result.Err != nil {
			log.Warnf("Could not fetch block %d for backfill: %s", result.Height, result.Err)
			continue
		}

		payments := analyzer.AnalyzeBlock(result.Block, e.watched)
		e.resolveSenders(payments)

		for _, transaction := range byHeight[result.Height] {
			for i := range payments {
				payment := &payments[i]
				if payment.TxID != transaction.TxHash || payment.VoutIndex != transaction.VoutIndex ||
					payment.Address != transaction.Address {
					continue
				}
				if payment.Sender.Kind != analyzer.SenderInline {
					continue
				}
				didUpdate, updateErr := e.store.BackfillSender(
					transaction.TxHash, transaction.BlockHeight, transaction.VoutIndex, payment.Sender.Address)
				if updateErr != nil {
					log.Errorf("Could not backfill sender for %s:%d: %s",
						transaction.TxHash, transaction.VoutIndex, updateErr)
					continue
				}
				if didUpdate {
					updated++
				}
			}
		}
	}
	return updated, nil
}
