package chainclient

import (
	"sync"
	"time"
)

// DataSource tags where a netstats value came from.
type DataSource string

// Recognized data sources.
const (
	DataSourceAPI     DataSource = "api"
	DataSourceCache   DataSource = "cache"
	DataSourcePartial DataSource = "partial"
	DataSourceFailed  DataSource = "failed"
)

// ttlCache is a single-value cache with a freshness stamp. When a refresh
// fails and a stale value exists, the stale value is served and the stamp is
// left untouched, so the next read retries the refresh.
type ttlCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	value     interface{}
	fetchedAt time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl}
}

// get returns the cached value, refreshing it through fetch when stale. The
// returned DataSource is DataSourceAPI for a fresh fetch, DataSourceCache
// when a cached or stale value was served.
func (c *ttlCache) get(fetch func() (interface{}, error)) (interface{}, DataSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value != nil && timeNow().Sub(c.fetchedAt) < c.ttl {
		return c.value, DataSourceCache, nil
	}

	value, err := fetch()
	if err != nil {
		if c.value != nil {
			log.Warnf("Refresh failed, serving stale value: %s", err)
			return c.value, DataSourceCache, nil
		}
		return nil, DataSourceFailed, err
	}

	c.value = value
	c.fetchedAt = timeNow()
	return value, DataSourceAPI, nil
}
