package blockchain

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	unhealthyDuration = 5 * time.Minute // cooldown before an endpoint is redialed
	probeTimeout      = 5 * time.Second
)

// ErrNoHealthyEndpoint is returned when every endpoint is in cooldown.
var ErrNoHealthyEndpoint = errors.New("no healthy RPC endpoints available")

// backend is the subset of *ethclient.Client used at a snapshot block.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

type dialFunc func(ctx context.Context, url string) (backend, error)

func dialEthclient(ctx context.Context, url string) (backend, error) {
	return ethclient.DialContext(ctx, url)
}

type endpoint struct {
	url       string
	client    backend
	lastError error
	failedAt  time.Time
}

func (ep *endpoint) healthy() bool {
	return ep.client != nil
}

// FailoverClient spreads calls over several RPC endpoints. An endpoint that
// fails is closed and skipped until its cooldown expires, then redialed.
type FailoverClient struct {
	mu        sync.Mutex
	endpoints []*endpoint
	current   int
	dial      dialFunc
	now       func() time.Time
}

// NewFailoverClient dials every endpoint; at least one must answer.
func NewFailoverClient(urls []string) (*FailoverClient, error) {
	return newFailoverClient(urls, dialEthclient)
}

func newFailoverClient(urls []string, dial dialFunc) (*FailoverClient, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	fc := &FailoverClient{dial: dial, now: time.Now}
	for _, url := range urls {
		ep := &endpoint{url: url}
		if client, err := fc.connect(url); err != nil {
			ep.lastError, ep.failedAt = err, fc.now()
			slog.Warn("Failed to connect to RPC endpoint, will retry later", "url", url, "error", err)
		} else {
			ep.client = client
			slog.Info("Connected to RPC endpoint", "url", url)
		}
		fc.endpoints = append(fc.endpoints, ep)
	}

	for _, ep := range fc.endpoints {
		if ep.healthy() {
			return fc, nil
		}
	}
	return nil, ErrNoHealthyEndpoint
}

// connect dials url and checks the endpoint answers eth_chainId.
func (fc *FailoverClient) connect(url string) (backend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	client, err := fc.dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	if _, err := client.ChainID(ctx); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "probe %s", url)
	}
	return client, nil
}

// pick returns the current endpoint if healthy, otherwise the next healthy
// one in round-robin order, redialing endpoints whose cooldown expired.
func (fc *FailoverClient) pick() (backend, string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	for i := range fc.endpoints {
		idx := (fc.current + i) % len(fc.endpoints)
		ep := fc.endpoints[idx]

		if !ep.healthy() && fc.now().Sub(ep.failedAt) > unhealthyDuration {
			client, err := fc.connect(ep.url)
			if err != nil {
				ep.lastError, ep.failedAt = err, fc.now()
				continue
			}
			ep.client, ep.lastError = client, nil
			slog.Info("Reconnected to RPC endpoint", "url", ep.url)
		}
		if ep.healthy() {
			fc.current = idx
			return ep.client, ep.url, nil
		}
	}
	return nil, "", ErrNoHealthyEndpoint
}

// markUnhealthy closes the endpoint's connection and starts its cooldown.
// The last healthy endpoint is kept so retries still have a target.
func (fc *FailoverClient) markUnhealthy(url string, err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	healthy := 0
	for _, ep := range fc.endpoints {
		if ep.healthy() {
			healthy++
		}
	}
	if healthy <= 1 {
		return
	}

	for _, ep := range fc.endpoints {
		if ep.url != url || !ep.healthy() {
			continue
		}
		ep.client.Close()
		ep.client = nil
		ep.lastError, ep.failedAt = err, fc.now()
		slog.Warn("Marked RPC endpoint as unhealthy, will retry after cooldown",
			"url", url,
			"error", err,
			"retry_after", unhealthyDuration)
		return
	}
}

// Health reports whether each endpoint is currently considered healthy.
func (fc *FailoverClient) Health() map[string]bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	status := make(map[string]bool, len(fc.endpoints))
	for _, ep := range fc.endpoints {
		status[ep.url] = ep.healthy()
	}
	return status
}

// Close closes all endpoint connections
func (fc *FailoverClient) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	for _, ep := range fc.endpoints {
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
	}
}
