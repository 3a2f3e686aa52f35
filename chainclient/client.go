package chainclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/2ndtlmining/fluxrevenue/config"
)

// UnknownAddress is returned by ResolveSender when the previous output
// cannot be resolved to an address.
const UnknownAddress = "Unknown"

// balanceDivisor converts explorer balances from base units to coins.
const balanceDivisor = 1e8

// Client talks to the Flux daemon JSON API. It fans requests out over a
// bounded worker pool and fronts the hot lookups with two LRU caches: one
// for resolved sender addresses and one for full block bodies.
//
// Individual request failures are reported per element and are never retried
// internally. The sync engine owns retry policy through its batch cadence.
type Client struct {
	apiURL     string
	statsURL   string
	httpClient *http.Client
	pool       *workerPool

	addressCache *lru.Cache
	blockCache   *lru.Cache

	netstats netstatsCaches

	closeOnce sync.Once
}

// New creates a Client from the given config and starts its worker pool.
func New(cfg *config.Config) (*Client, error) {
	addressCache, err := lru.New(cfg.AddressCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create address cache")
	}
	blockCache, err := lru.New(cfg.BlockCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "could not create block cache")
	}

	client := &Client{
		apiURL:   cfg.APIURL,
		statsURL: cfg.StatsURL,
		httpClient: &http.Client{
			Timeout: cfg.ConnectionTimeout,
		},
		pool:         newWorkerPool(cfg.MaxConcurrent, 4*cfg.MaxConcurrent, cfg.RequestDelay),
		addressCache: addressCache,
		blockCache:   blockCache,
	}
	client.netstats = newNetstatsCaches()
	return client, nil
}

// Close stops the worker pool. In-flight requests complete within their own
// deadlines.
func (c *Client) Close() {
	c.closeOnce.Do(c.pool.close)
}

// get issues one GET request and unwraps the {status, data} envelope.
func (c *Client) get(rawURL string, result interface{}) error {
	resp, err := c.httpClient.Get(rawURL)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("request to %s returned status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "could not read response from %s", rawURL)
	}

	envelope := &apiEnvelope{}
	err = json.Unmarshal(body, envelope)
	if err != nil {
		return errors.Wrapf(err, "malformed response from %s", rawURL)
	}
	if envelope.Status != "success" {
		return errors.Errorf("request to %s returned status '%s'", rawURL, envelope.Status)
	}

	err = json.Unmarshal(envelope.Data, result)
	if err != nil {
		return errors.Wrapf(err, "malformed data in response from %s", rawURL)
	}
	return nil
}

// Tip returns the current tip height. It falls back to getblockcount when
// getinfo is unavailable.
func (c *Client) Tip() (int64, error) {
	info := &struct {
		Blocks int64 `json:"blocks"`
	}{}
	err := c.get(c.apiURL+"/daemon/getinfo", info)
	if err == nil && info.Blocks > 0 {
		return info.Blocks, nil
	}
	if err != nil {
		log.Debugf("getinfo failed, falling back to getblockcount: %s", err)
	}

	var count int64
	fallbackErr := c.get(c.apiURL+"/daemon/getblockcount", &count)
	if fallbackErr != nil {
		if err != nil {
			return 0, errors.Wrapf(err, "could not resolve tip (fallback also failed: %s)", fallbackErr)
		}
		return 0, fallbackErr
	}
	return count, nil
}

// FetchBlocks fetches the given heights in parallel. The result slice is
// order-preserving with respect to the input; each element carries either a
// block body or that height's error. A failed height never poisons its
// siblings.
func (c *Client) FetchBlocks(heights []int64) []BlockResult {
	results := make([]BlockResult, len(heights))

	wg := &sync.WaitGroup{}
	for i, height := range heights {
		i, height := i, height
		if cached, ok := c.blockCache.Get(height); ok {
			results[i] = BlockResult{Height: height, Block: cached.(*Block).clone()}
			continue
		}

		wg.Add(1)
		c.pool.submit(func() {
			defer wg.Done()
			block, err := c.fetchBlock(height)
			if err != nil {
				results[i] = BlockResult{Height: height, Err: err}
				return
			}
			c.blockCache.Add(height, block.clone())
			results[i] = BlockResult{Height: height, Block: block}
		})
	}
	wg.Wait()

	return results
}

func (c *Client) fetchBlock(height int64) (*Block, error) {
	block := &Block{}
	rawURL := fmt.Sprintf("%s/daemon/getblock?hashheight=%d&verbosity=2", c.apiURL, height)
	err := c.get(rawURL, block)
	if err != nil {
		return nil, err
	}
	if len(block.Tx) == 0 && block.Hash == "" {
		return nil, errors.Errorf("block %d came back empty", height)
	}
	return block, nil
}

// ResolveSender resolves the spending address of the given previous output.
// Results, including failures, are cached; a failed lookup resolves to
// UnknownAddress rather than an error.
func (c *Client) ResolveSender(prevTxID string, voutIndex int) string {
	cacheKey := fmt.Sprintf("%s:%d", prevTxID, voutIndex)
	if cached, ok := c.addressCache.Get(cacheKey); ok {
		return cached.(string)
	}

	address := c.lookupOutputAddress(prevTxID, voutIndex)
	c.addressCache.Add(cacheKey, address)
	return address
}

func (c *Client) lookupOutputAddress(prevTxID string, voutIndex int) string {
	tx := &Tx{}
	rawURL := fmt.Sprintf("%s/daemon/getrawtransaction?txid=%s&decrypt=1", c.apiURL, url.QueryEscape(prevTxID))
	err := c.get(rawURL, tx)
	if err != nil {
		log.Debugf("Could not resolve sender for %s:%d: %s", prevTxID, voutIndex, err)
		return UnknownAddress
	}
	if voutIndex < 0 || voutIndex >= len(tx.Vout) {
		return UnknownAddress
	}
	addresses := tx.Vout[voutIndex].ScriptPubKey.Addresses
	if len(addresses) == 0 {
		return UnknownAddress
	}
	return addresses[0]
}

// Balance returns the balance of the given address in coins.
func (c *Client) Balance(address string) (float64, error) {
	var baseUnits float64
	err := c.get(fmt.Sprintf("%s/explorer/balance/%s", c.apiURL, url.PathEscape(address)), &baseUnits)
	if err != nil {
		return 0, err
	}
	return baseUnits / balanceDivisor, nil
}

// statsGet issues one GET request against the stats host. The stats host
// returns bare JSON arrays without the daemon envelope on some endpoints and
// the envelope on others, so callers pick the decode.
func (c *Client) statsGet(path string, result interface{}) error {
	rawURL := c.statsURL + path
	resp, err := c.httpClient.Get(rawURL)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("request to %s returned status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "could not read response from %s", rawURL)
	}

	// Try the enveloped form first, then the bare form.
	envelope := &apiEnvelope{}
	err = json.Unmarshal(body, envelope)
	if err == nil && envelope.Status != "" {
		if envelope.Status != "success" {
			return errors.Errorf("request to %s returned status '%s'", rawURL, envelope.Status)
		}
		return json.Unmarshal(envelope.Data, result)
	}
	return json.Unmarshal(body, result)
}

var timeNow = time.Now
