// Package blockchain wraps EVM JSON-RPC access used around a snapshot: rate
// oracles read at a pinned block, block lookup by timestamp and token metadata.
package blockchain

import (
	"context"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	rpcTimeout    = 10 * time.Second
	maxRetries    = 3
	retryInterval = 500 * time.Millisecond
)

// Client wraps Ethereum RPC client functionality with failover support
type Client struct {
	failoverClient *FailoverClient
}

// NewClient creates a new blockchain client with failover support
func NewClient(rpcURLs []string) (*Client, error) {
	failoverClient, err := NewFailoverClient(rpcURLs)
	if err != nil {
		return nil, err
	}
	return &Client{failoverClient: failoverClient}, nil
}

// Close closes all RPC client connections
func (c *Client) Close() {
	c.failoverClient.Close()
}

// CallContract executes a read-only call at blockNumber (nil = latest).
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	var out []byte
	err := c.retryWithBackoff(rpcCtx, func(b backend) error {
		var err error
		out, err = b.CallContract(rpcCtx, msg, blockNumber)
		return err
	})
	return out, err
}

// HeaderByNumber returns the header at number (nil = latest).
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	var header *types.Header
	err := c.retryWithBackoff(rpcCtx, func(b backend) error {
		var err error
		header, err = b.HeaderByNumber(rpcCtx, number)
		return err
	})
	return header, err
}

// LatestBlock returns the current chain head number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := c.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "latest header")
	}
	return header.Number.Uint64(), nil
}

// Ping checks that a healthy endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	b, url, err := c.failoverClient.pick()
	if err != nil {
		return err
	}
	if _, err := b.ChainID(ctx); err != nil {
		return errors.Wrapf(err, "rpc endpoint %s", url)
	}
	return nil
}

// EndpointsHealth reports the health flag of each configured endpoint.
func (c *Client) EndpointsHealth() map[string]bool {
	return c.failoverClient.Health()
}

// retryWithBackoff runs fn against a healthy endpoint with exponential
// backoff, failing over to the next endpoint after each transient error.
func (c *Client) retryWithBackoff(ctx context.Context, fn func(backend) error) error {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := retryInterval * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return errors.WithStack(ctx.Err())
			}
		}

		b, url, err := c.failoverClient.pick()
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			continue
		}

		if err = fn(b); err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(err) {
			break
		}
		c.failoverClient.markUnhealthy(url, err)
	}

	return errors.Wrapf(lastErr, "failed after %d retries", maxRetries)
}

// isPermanent reports errors that another endpoint would return too.
func isPermanent(err error) bool {
	return errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled)
}
