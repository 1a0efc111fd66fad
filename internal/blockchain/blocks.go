package blockchain

import (
	"context"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderReader fetches block headers.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ErrBeforeGenesis is returned for timestamps earlier than block 0.
var ErrBeforeGenesis = errors.New("timestamp before genesis")

// BlockAtTimestamp returns the last block whose timestamp is <= ts, using a
// binary search over headers.
func BlockAtTimestamp(ctx context.Context, r HeaderReader, ts uint64) (uint64, error) {
	latest, err := r.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "latest header")
	}
	if latest.Time <= ts {
		return latest.Number.Uint64(), nil
	}

	blockTime := func(n uint64) (uint64, error) {
		h, err := r.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return 0, errors.Wrapf(err, "header %d", n)
		}
		return h.Time, nil
	}

	genesis, err := blockTime(0)
	if err != nil {
		return 0, err
	}
	if genesis > ts {
		return 0, errors.Wrapf(ErrBeforeGenesis, "timestamp %d", ts)
	}

	// invariant: time(lo) <= ts < time(hi)
	lo, hi := uint64(0), latest.Number.Uint64()
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		t, err := blockTime(mid)
		if err != nil {
			return 0, err
		}
		if t <= ts {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}
