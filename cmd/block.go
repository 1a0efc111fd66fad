package cmd

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/matrixise/holder-snapshot/internal/blockchain"
)

// chainReader is satisfied by blockchain.Client
type chainReader interface {
	blockchain.HeaderReader
	LatestBlock(ctx context.Context) (uint64, error)
}

// resolveBlock picks the snapshot block: an explicit block, the last block at
// a timestamp, or the chain head minus confirmations.
func resolveBlock(ctx context.Context, chain chainReader, block uint64, timestamp string, confirmations uint64) (uint64, error) {
	if block > 0 && timestamp != "" {
		return 0, errors.New("--block and --timestamp are mutually exclusive")
	}
	if block > 0 {
		return block, nil
	}
	if timestamp != "" {
		ts, err := parseTimestamp(timestamp)
		if err != nil {
			return 0, err
		}
		return blockchain.BlockAtTimestamp(ctx, chain, ts)
	}

	latest, err := chain.LatestBlock(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get latest block")
	}
	if latest < confirmations {
		return 0, errors.Errorf("chain head %d is below %d confirmations", latest, confirmations)
	}
	return latest - confirmations, nil
}

// parseTimestamp accepts unix seconds or RFC 3339.
func parseTimestamp(s string) (uint64, error) {
	if secs, err := strconv.ParseUint(s, 10, 64); err == nil {
		return secs, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, errors.Errorf("invalid timestamp %q: expected unix seconds or RFC 3339", s)
	}
	if t.Unix() < 0 {
		return 0, errors.Errorf("timestamp %q is before 1970", s)
	}
	return uint64(t.Unix()), nil
}
