package blockchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain produces one block every 12 seconds starting at genesisTime.
type fakeChain struct {
	genesisTime uint64
	head        uint64
	calls       int
}

func (c *fakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.calls++
	n := c.head
	if number != nil {
		n = number.Uint64()
	}
	if n > c.head {
		return nil, errors.New("not found")
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: c.genesisTime + 12*n}, nil
}

func TestBlockAtTimestamp(t *testing.T) {
	chain := &fakeChain{genesisTime: 1_600_000_000, head: 1_000_000}
	ctx := context.Background()

	tests := []struct {
		name string
		ts   uint64
		want uint64
	}{
		{"genesis exact", 1_600_000_000, 0},
		{"between genesis and block 1", 1_600_000_005, 0},
		{"exact block", 1_600_000_000 + 12*777_777, 777_777},
		{"just before next block", 1_600_000_000 + 12*500_000 + 11, 500_000},
		{"head exact", 1_600_000_000 + 12*1_000_000, 1_000_000},
		{"future timestamp clamps to head", 1_900_000_000, 1_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BlockAtTimestamp(ctx, chain, tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBlockAtTimestampLogarithmic(t *testing.T) {
	chain := &fakeChain{genesisTime: 0, head: 1 << 20}
	_, err := BlockAtTimestamp(context.Background(), chain, 12*12345)
	require.NoError(t, err)
	assert.LessOrEqual(t, chain.calls, 25)
}

func TestBlockAtTimestampBeforeGenesis(t *testing.T) {
	chain := &fakeChain{genesisTime: 1_600_000_000, head: 10}
	_, err := BlockAtTimestamp(context.Background(), chain, 1_500_000_000)
	assert.True(t, errors.Is(err, ErrBeforeGenesis))
}
