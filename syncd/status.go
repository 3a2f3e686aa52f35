package syncd

import (
	"sync"
	"time"
)

// Status is a consistent snapshot of sync progress, shaped the way the HTTP
// handlers serve it.
type Status struct {
	CurrentHeight             int64   `json:"currentHeight"`
	HighestSynced             *int64  `json:"highestSynced"`
	LowestSynced              *int64  `json:"lowestSynced"`
	TotalBlocksSynced         int64   `json:"totalBlocksSynced"`
	TotalBlocksRemaining      int64   `json:"totalBlocksRemaining"`
	NewBlocksRemaining        int64   `json:"newBlocksRemaining"`
	HistoricalBlocksRemaining int64   `json:"historicalBlocksRemaining"`
	SyncProgress              float64 `json:"syncProgress"`
	IsOnline                  bool    `json:"isOnline"`
	IsFirstRun                bool    `json:"isFirstRun"`
	IsSyncing                 bool    `json:"isSyncing"`
	IsComplete                bool    `json:"isComplete"`
	HasCompletedInitialSync   bool    `json:"hasCompletedInitialSync"`
	LastSyncMessage           string  `json:"lastSyncMessage"`
	SyncRate                  float64 `json:"syncRate"`
	EstimatedTimeRemaining    int64   `json:"estimatedTimeRemaining"`
	LastCycleTime             int64   `json:"lastCycleTime"`
}

// statusBoard publishes the engine's status under single-writer discipline:
// only the running cycle writes, any number of HTTP readers take snapshots.
type statusBoard struct {
	mu     sync.RWMutex
	status Status
}

func (b *statusBoard) snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *statusBoard) update(mutate func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mutate(&b.status)
}

// syncRateWindowDuration bounds the window over which the block processing
// rate is measured.
const syncRateWindowDuration = 15 * time.Minute

// rateCounter measures the recent block processing rate over a rolling
// window.
type rateCounter struct {
	mu         sync.Mutex
	timestamps []time.Time
	startTime  time.Time
}

func newRateCounter() *rateCounter {
	return &rateCounter{startTime: time.Now()}
}

// add records that n blocks were just processed.
func (r *rateCounter) add(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for i := 0; i < n; i++ {
		r.timestamps = append(r.timestamps, now)
	}
	r.timestamps = r.relevantWindow()
}

func (r *rateCounter) relevantWindow() []time.Time {
	minTime := time.Now().Add(-syncRateWindowDuration)
	windowStartIndex := len(r.timestamps)
	for i, processTime := range r.timestamps {
		if processTime.After(minTime) {
			windowStartIndex = i
			break
		}
	}
	return r.timestamps[windowStartIndex:]
}

// rate returns blocks per second over the elapsed part of the window.
func (r *rateCounter) rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	window := syncRateWindowDuration
	if uptime := time.Since(r.startTime); uptime < window {
		window = uptime
	}
	if window <= 0 {
		return 0
	}
	return float64(len(r.relevantWindow())) / window.Seconds()
}
