// Package snapshot computes the merged holder table of the tracked token at
// one block.
package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/matrixise/holder-snapshot/internal/blockchain"
	"github.com/matrixise/holder-snapshot/internal/holders"
	"github.com/matrixise/holder-snapshot/internal/venues"
)

// Service collects every venue, converts shares to base units and merges them.
type Service struct {
	venues    []venues.Venue
	rates     map[holders.Unit]holders.RateSource
	blacklist holders.Blacklist
	decimals  uint8
	logger    *slog.Logger
}

// Option customizes a Service
type Option func(*Service)

// WithBlacklist excludes addresses from the merged snapshot.
func WithBlacklist(b holders.Blacklist) Option {
	return func(s *Service) { s.blacklist = b }
}

// WithDecimals sets the token decimals used for human-readable log output.
func WithDecimals(decimals uint8) Option {
	return func(s *Service) { s.decimals = decimals }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a snapshot service over vs.
func NewService(vs []venues.Venue, rates map[holders.Unit]holders.RateSource, opts ...Option) *Service {
	s := &Service{
		venues:   vs,
		rates:    rates,
		decimals: 18,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Venues returns the configured venue names in order.
func (s *Service) Venues() []string {
	return lo.Map(s.venues, func(v venues.Venue, _ int) string { return v.Name() })
}

// Take computes the snapshot at block. Venues are fetched concurrently; the
// first failing venue cancels the others and fails the whole snapshot.
func (s *Service) Take(ctx context.Context, block uint64) (*holders.Snapshot, error) {
	start := time.Now()
	s.logger.Info("Taking snapshot", "block", block, "venues", len(s.venues))

	fetched := make([][]holders.Share, len(s.venues))
	eg, ectx := errgroup.WithContext(ctx)
	for i, v := range s.venues {
		eg.Go(func() error {
			venueStart := time.Now()
			shares, err := v.Shares(ectx, block)
			if err != nil {
				return errors.Wrapf(err, "venue %q", v.Name())
			}
			fetched[i] = shares
			s.logger.Debug("Venue fetched", "venue", v.Name(), "shares", len(shares), "duration", time.Since(venueStart))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	normalizer := holders.NewNormalizer(block, s.rates)
	sets := make([][]holders.HolderRecord, len(s.venues))
	for i, v := range s.venues {
		records, err := normalizer.Records(ctx, fetched[i])
		if err != nil {
			return nil, errors.Wrapf(err, "venue %q", v.Name())
		}
		sets[i] = records
		s.logger.Info("Venue normalized",
			"venue", v.Name(),
			"holders", len(records),
			"total", blockchain.HumanBalance(holders.Sum(records), s.decimals),
		)
	}

	snap := holders.Merge(block, sets, holders.WithBlacklist(s.blacklist))
	s.logger.Info("Snapshot complete",
		"block", block,
		"holders", snap.Len(),
		"total", blockchain.HumanBalance(snap.Total(), s.decimals),
		"duration", time.Since(start),
	)
	return snap, nil
}
