package storage

import (
	"context"
	"io/fs"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/holder-snapshot/internal/holders"
)

const (
	holderA = "0x1111111111111111111111111111111111111111"
	holderB = "0x2222222222222222222222222222222222222222"
	holderC = "0x3333333333333333333333333333333333333333"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

func testSnapshot(t *testing.T) *holders.Snapshot {
	return holders.Merge(19_000_000, [][]holders.HolderRecord{
		{
			{ID: holderB, Balance: big.NewInt(200)},
			{ID: holderA, Balance: bigFromString(t, "999999999999999999999999999")},
		},
		{
			{ID: holderB, Balance: big.NewInt(50)},
			{ID: holderC, Balance: big.NewInt(0)},
		},
	})
}

func TestRowsFromSnapshot(t *testing.T) {
	takenAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	info, rows := rowsFromSnapshot(testSnapshot(t), takenAt)

	assert.Equal(t, uint64(19_000_000), info.Block)
	assert.Equal(t, time.UTC, info.TakenAt.Location())
	assert.True(t, takenAt.Equal(info.TakenAt))
	assert.Equal(t, 2, info.HolderCount)
	assert.Equal(t, "1000000000000000000000000249", info.Total.String())

	require.Len(t, rows, 2)
	assert.Equal(t, holderA, rows[0].Holder)
	assert.Equal(t, "999999999999999999999999999", rows[0].Balance.String())
	assert.Equal(t, holderB, rows[1].Holder)
	assert.Equal(t, "250", rows[1].Balance.String())
}

func TestRowsFromEmptySnapshot(t *testing.T) {
	info, rows := rowsFromSnapshot(holders.Merge(1, nil), time.Now())

	assert.Equal(t, 0, info.HolderCount)
	assert.True(t, info.Total.IsZero())
	assert.Empty(t, rows)
}

func TestHolderBalanceRecord(t *testing.T) {
	row := HolderBalance{Holder: holderA, Balance: decimal.RequireFromString("123456789012345678901234567890")}

	rec := row.Record()
	assert.Equal(t, holderA, rec.ID)
	assert.Equal(t, "123456789012345678901234567890", rec.Balance.String())
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero uses default", 0, DefaultPageLimit},
		{"negative uses default", -5, DefaultPageLimit},
		{"within bounds", 250, 250},
		{"at max", MaxPageLimit, MaxPageLimit},
		{"above max", MaxPageLimit + 1, MaxPageLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampLimit(tt.limit))
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		body, err := fs.ReadFile(migrations, name)
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", name)
		assert.Contains(t, string(body), "-- +goose Down", name)
	}
}

// TestStoreRoundTrip runs against a real database when
// HOLDER_SNAPSHOT_TEST_DATABASE_URL is set.
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("HOLDER_SNAPSHOT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HOLDER_SNAPSHOT_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, RunMigrations(ctx, dsn))

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	snap := testSnapshot(t)
	require.NoError(t, store.SaveSnapshot(ctx, snap, time.Now()))
	// Saving the same block twice replaces the earlier rows.
	require.NoError(t, store.SaveSnapshot(ctx, snap, time.Now()))

	info, err := store.GetSnapshot(ctx, snap.Block)
	require.NoError(t, err)
	assert.Equal(t, 2, info.HolderCount)

	page, err := store.ListBalances(ctx, snap.Block, "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, holderA, page[0].Holder)

	page, err = store.ListBalances(ctx, snap.Block, strings.ToUpper(page[0].Holder), 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, holderB, page[0].Holder)

	_, err = store.GetSnapshot(ctx, 1)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}
