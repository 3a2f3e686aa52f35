package chainclient

import (
	"time"

	"github.com/pkg/errors"
)

// Per-endpoint cache lifetimes. The fleet numbers move slowly; utilization
// and running apps move faster.
const (
	nodeCountTTL   = 5 * time.Minute
	arcaneTTL      = 10 * time.Minute
	utilizationTTL = 3 * time.Minute
	combinedTTL    = 5 * time.Minute
	runningAppsTTL = 2 * time.Minute
)

type netstatsCaches struct {
	nodeCount   *ttlCache
	arcane      *ttlCache
	utilization *ttlCache
	combined    *ttlCache
	runningApps *ttlCache
}

func newNetstatsCaches() netstatsCaches {
	return netstatsCaches{
		nodeCount:   newTTLCache(nodeCountTTL),
		arcane:      newTTLCache(arcaneTTL),
		utilization: newTTLCache(utilizationTTL),
		combined:    newTTLCache(combinedTTL),
		runningApps: newTTLCache(runningAppsTTL),
	}
}

// NodeCount is the fleet tier breakdown reported by the daemon.
type NodeCount struct {
	Total   int64 `json:"total"`
	Cumulus int64 `json:"cumulus-enabled"`
	Nimbus  int64 `json:"nimbus-enabled"`
	Stratus int64 `json:"stratus-enabled"`
	Fractus int64 `json:"fractus-enabled"`
}

// fluxInfoNode is one node record from the stats host. Only the projected
// fields the accessors need are decoded.
type fluxInfoNode struct {
	Tier      string `json:"tier"`
	ArcaneOS  bool   `json:"arcaneos"`
	Benchmark struct {
		Cores   int64   `json:"cores"`
		RAM     float64 `json:"ram"`
		SSD     float64 `json:"ssd"`
	} `json:"benchmark"`
	Apps struct {
		Running int64 `json:"runningapps"`
	} `json:"apps"`
}

// Utilization is the fleet-wide resource picture derived from the stats
// host benchmark projection.
type Utilization struct {
	NodeCount     int64   `json:"nodeCount"`
	TotalCores    int64   `json:"totalCores"`
	TotalRAMGB    float64 `json:"totalRamGb"`
	TotalSSDGB    float64 `json:"totalSsdGb"`
	UtilizedCores int64   `json:"utilizedCores"`
	UtilizedRAMGB float64 `json:"utilizedRamGb"`
	UtilizedSSDGB float64 `json:"utilizedSsdGb"`
	RunningApps   int64   `json:"runningApps"`
}

// ArcaneStats is the ArcaneOS adoption picture.
type ArcaneStats struct {
	NodeCount   int64 `json:"nodeCount"`
	ArcaneNodes int64 `json:"arcaneNodes"`
}

// CombinedStats pairs the tier counts with the utilization picture.
type CombinedStats struct {
	Nodes       *NodeCount   `json:"nodes"`
	Utilization *Utilization `json:"utilization"`
}

// NodeCountStats returns the fleet tier counts. A stale value is returned
// with DataSourceCache when the upstream refresh fails.
func (c *Client) NodeCountStats() (*NodeCount, DataSource, error) {
	value, source, err := c.netstats.nodeCount.get(func() (interface{}, error) {
		counts := &NodeCount{}
		fetchErr := c.get(c.apiURL+"/daemon/getfluxnodecount", counts)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return counts, nil
	})
	if err != nil {
		return nil, source, err
	}
	return value.(*NodeCount), source, nil
}

// ArcaneOSStats returns ArcaneOS adoption numbers from the stats host.
func (c *Client) ArcaneOSStats() (*ArcaneStats, DataSource, error) {
	value, source, err := c.netstats.arcane.get(func() (interface{}, error) {
		nodes := []fluxInfoNode{}
		fetchErr := c.statsGet("/fluxinfo?projection=flux", &nodes)
		if fetchErr != nil {
			return nil, fetchErr
		}
		stats := &ArcaneStats{NodeCount: int64(len(nodes))}
		for _, node := range nodes {
			if node.ArcaneOS {
				stats.ArcaneNodes++
			}
		}
		return stats, nil
	})
	if err != nil {
		return nil, source, err
	}
	return value.(*ArcaneStats), source, nil
}

// UtilizationStats returns the fleet resource totals and utilization.
func (c *Client) UtilizationStats() (*Utilization, DataSource, error) {
	value, source, err := c.netstats.utilization.get(func() (interface{}, error) {
		nodes := []fluxInfoNode{}
		fetchErr := c.statsGet("/fluxinfo?projection=benchmark,apps", &nodes)
		if fetchErr != nil {
			return nil, fetchErr
		}
		utilization := &Utilization{NodeCount: int64(len(nodes))}
		for _, node := range nodes {
			utilization.TotalCores += node.Benchmark.Cores
			utilization.TotalRAMGB += node.Benchmark.RAM
			utilization.TotalSSDGB += node.Benchmark.SSD
			utilization.RunningApps += node.Apps.Running
			if node.Apps.Running > 0 {
				utilization.UtilizedCores += node.Benchmark.Cores
				utilization.UtilizedRAMGB += node.Benchmark.RAM
				utilization.UtilizedSSDGB += node.Benchmark.SSD
			}
		}
		return utilization, nil
	})
	if err != nil {
		return nil, source, err
	}
	return value.(*Utilization), source, nil
}

// RunningAppsCount returns the number of running apps across the fleet.
func (c *Client) RunningAppsCount() (int64, DataSource, error) {
	value, source, err := c.netstats.runningApps.get(func() (interface{}, error) {
		nodes := []fluxInfoNode{}
		fetchErr := c.statsGet("/fluxinfo?projection=apps", &nodes)
		if fetchErr != nil {
			return nil, fetchErr
		}
		var running int64
		for _, node := range nodes {
			running += node.Apps.Running
		}
		return running, nil
	})
	if err != nil {
		return 0, source, err
	}
	return value.(int64), source, nil
}

// CombinedNetworkStats returns the tier counts and utilization as one view.
// When only one half is available, the result is partial rather than an
// error.
func (c *Client) CombinedNetworkStats() (*CombinedStats, DataSource, error) {
	value, source, err := c.netstats.combined.get(func() (interface{}, error) {
		nodes, _, nodesErr := c.NodeCountStats()
		utilization, _, utilizationErr := c.UtilizationStats()
		if nodesErr != nil && utilizationErr != nil {
			return nil, errors.Errorf("node counts: %s; utilization: %s", nodesErr, utilizationErr)
		}
		return &CombinedStats{Nodes: nodes, Utilization: utilization}, nil
	})
	if err != nil {
		return nil, source, err
	}
	combined := value.(*CombinedStats)
	if combined.Nodes == nil || combined.Utilization == nil {
		return combined, DataSourcePartial, nil
	}
	return combined, source, nil
}
