package holders

import (
	"context"
	"math/big"

	"github.com/cockroachdb/errors"
)

var (
	ErrUnknownUnit = errors.New("no rate source for unit")
	ErrInvalidRate = errors.New("invalid rate")
)

// Rate is a fixed-point conversion factor: base = share * Value / 10^Decimals.
type Rate struct {
	Value    *big.Int
	Decimals uint8
}

// Apply converts amount with the rate. amount is not modified.
func (r Rate) Apply(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, r.Value)
	if r.Decimals == 0 {
		return out
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.Decimals)), nil)
	return out.Quo(out, scale)
}

// RateSource yields the conversion rate of one unit at a block. Implementations
// must be deterministic for a given block.
type RateSource interface {
	Rate(ctx context.Context, block uint64) (Rate, error)
}

// RateSourceFunc adapts a function to RateSource.
type RateSourceFunc func(ctx context.Context, block uint64) (Rate, error)

func (f RateSourceFunc) Rate(ctx context.Context, block uint64) (Rate, error) {
	return f(ctx, block)
}

// FixedRate returns a RateSource that always yields value/10^decimals.
func FixedRate(value *big.Int, decimals uint8) RateSource {
	return RateSourceFunc(func(context.Context, uint64) (Rate, error) {
		return Rate{Value: new(big.Int).Set(value), Decimals: decimals}, nil
	})
}

// Normalizer converts native shares into base-asset units for a single block.
// Each unit's rate is fetched once and reused. Not safe for concurrent use.
type Normalizer struct {
	block   uint64
	sources map[Unit]RateSource
	cache   map[Unit]Rate
}

// NewNormalizer creates a Normalizer pinned to block.
func NewNormalizer(block uint64, sources map[Unit]RateSource) *Normalizer {
	return &Normalizer{
		block:   block,
		sources: sources,
		cache:   make(map[Unit]Rate),
	}
}

// Block returns the block the normalizer is pinned to.
func (n *Normalizer) Block() uint64 {
	return n.block
}

// ToBaseUnits converts amount expressed in unit into base-asset units.
func (n *Normalizer) ToBaseUnits(ctx context.Context, amount *big.Int, unit Unit) (*big.Int, error) {
	if amount == nil {
		return new(big.Int), nil
	}
	if unit == UnitBase || unit == "" {
		return new(big.Int).Set(amount), nil
	}
	rate, err := n.rate(ctx, unit)
	if err != nil {
		return nil, err
	}
	return rate.Apply(amount), nil
}

func (n *Normalizer) rate(ctx context.Context, unit Unit) (Rate, error) {
	if r, ok := n.cache[unit]; ok {
		return r, nil
	}
	src, ok := n.sources[unit]
	if !ok {
		return Rate{}, errors.Wrapf(ErrUnknownUnit, "unit %q", unit)
	}
	r, err := src.Rate(ctx, n.block)
	if err != nil {
		return Rate{}, errors.Wrapf(err, "rate for unit %q at block %d", unit, n.block)
	}
	if r.Value == nil || r.Value.Sign() < 0 {
		return Rate{}, errors.Wrapf(ErrInvalidRate, "unit %q at block %d", unit, n.block)
	}
	n.cache[unit] = r
	return r, nil
}

// Records converts a venue's shares into holder records in base-asset units.
// Shares of the same holder are kept as separate records; Merge sums them.
func (n *Normalizer) Records(ctx context.Context, shares []Share) ([]HolderRecord, error) {
	records := make([]HolderRecord, 0, len(shares))
	for _, s := range shares {
		amount, err := n.ToBaseUnits(ctx, s.Amount, s.Unit)
		if err != nil {
			return nil, errors.Wrapf(err, "holder %s", s.Holder)
		}
		records = append(records, HolderRecord{ID: NormalizeAddress(s.Holder), Balance: amount})
	}
	return records, nil
}
