package netstats

import (
	"time"

	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/chainclient"
	"github.com/2ndtlmining/fluxrevenue/config"
	"github.com/2ndtlmining/fluxrevenue/models"
	"github.com/2ndtlmining/fluxrevenue/store"
)

// Snapshots are taken twice a day; a repeat within the tolerance window is
// skipped so restarts don't duplicate rows.
const (
	collectionInterval = 12 * time.Hour
	dedupeTolerance    = int64(time.Hour / time.Second)
)

// Collector periodically snapshots network-wide fleet and utilization
// statistics into the store.
type Collector struct {
	cfg    *config.Config
	client *chainclient.Client
	store  *store.Store
}

// New creates a Collector.
func New(cfg *config.Config, client *chainclient.Client, statsStore *store.Store) *Collector {
	return &Collector{cfg: cfg, client: client, store: statsStore}
}

// Start collects one snapshot immediately and then twice daily until
// doneChan is signalled.
func (c *Collector) Start(doneChan chan struct{}) {
	c.collectWithDeadline()

	ticker := time.NewTicker(collectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-doneChan:
			log.Infof("Network stats collector stopped")
			return
		case <-ticker.C:
			c.collectWithDeadline()
		}
	}
}

// collectWithDeadline runs one collection under the configured outer
// deadline. A collection that overruns is abandoned to the background; its
// HTTP requests still finish within their own per-request timeouts.
func (c *Collector) collectWithDeadline() {
	done := make(chan struct{})
	spawn(func() {
		defer close(done)
		err := c.Collect()
		if err != nil {
			log.Errorf("Network stats collection failed: %s", err)
		}
	})

	select {
	case <-done:
	case <-time.After(c.cfg.CollectionTimeout):
		log.Warnf("Network stats collection exceeded %s deadline", c.cfg.CollectionTimeout)
	}
}

// Collect gathers one fleet snapshot and one utilization snapshot and
// stores whichever parts could be gathered. Partial results are stored with
// a partial data source tag rather than dropped.
func (c *Collector) Collect() error {
	now := time.Now().Unix()

	attempts, successes := 0, 0

	attempts++
	nodes, nodeSource, nodeErr := c.client.NodeCountStats()
	if nodeErr == nil {
		successes++
	}

	attempts++
	utilization, utilizationSource, utilizationErr := c.client.UtilizationStats()
	if utilizationErr == nil {
		successes++
	}

	successRate := float64(successes) / float64(attempts) * 100

	if nodeErr != nil && utilizationErr != nil {
		return errors.Errorf("all collections failed: nodes: %s; utilization: %s", nodeErr, utilizationErr)
	}

	if nodeErr == nil {
		err := c.storeNodeSnapshot(now, nodes, nodeSource, successRate)
		if err != nil {
			return err
		}
	}
	if utilizationErr == nil {
		err := c.storeUtilizationSnapshot(now, utilization, utilizationSource, successRate)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) storeNodeSnapshot(now int64, nodes *chainclient.NodeCount, source chainclient.DataSource, successRate float64) error {
	exists, err := c.store.SnapshotExistsWithin(store.NodeStatsTable, now, dedupeTolerance)
	if err != nil {
		return err
	}
	if exists {
		log.Debugf("Skipping node stats snapshot, one exists within tolerance")
		return nil
	}

	snapshot := &models.NetworkNodeStats{
		Timestamp:      now,
		CumulusCount:   nodes.Cumulus,
		NimbusCount:    nodes.Nimbus,
		StratusCount:   nodes.Stratus,
		FractusCount:   nodes.Fractus,
		TotalCount:     nodes.Total,
		DataSource:     string(snapshotSource(source, successRate)),
		APISuccessRate: successRate,
	}
	if successRate < 100 {
		snapshot.Note = "collected with partial upstream failures"
	}
	return c.store.InsertNodeStats(snapshot)
}

func (c *Collector) storeUtilizationSnapshot(now int64, utilization *chainclient.Utilization, source chainclient.DataSource, successRate float64) error {
	exists, err := c.store.SnapshotExistsWithin(store.UtilizationStatsTable, now, dedupeTolerance)
	if err != nil {
		return err
	}
	if exists {
		log.Debugf("Skipping utilization snapshot, one exists within tolerance")
		return nil
	}

	snapshot := &models.NetworkUtilizationStats{
		Timestamp:      now,
		TotalCores:     utilization.TotalCores,
		TotalRAMGB:     utilization.TotalRAMGB,
		TotalSSDGB:     utilization.TotalSSDGB,
		UtilizedCores:  utilization.UtilizedCores,
		UtilizedRAMGB:  utilization.UtilizedRAMGB,
		UtilizedSSDGB:  utilization.UtilizedSSDGB,
		RunningApps:    utilization.RunningApps,
		NodeCount:      utilization.NodeCount,
		DataSource:     string(snapshotSource(source, successRate)),
		APISuccessRate: successRate,
	}
	if successRate < 100 {
		snapshot.Note = "collected with partial upstream failures"
	}
	return c.store.InsertUtilizationStats(snapshot)
}

// snapshotSource derives the stored data source tag from where the value
// came from and how the collection as a whole went.
func snapshotSource(source chainclient.DataSource, successRate float64) chainclient.DataSource {
	if source == chainclient.DataSourceCache {
		return chainclient.DataSourceCache
	}
	if successRate < 100 {
		return chainclient.DataSourcePartial
	}
	return chainclient.DataSourceAPI
}
