package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
}

func (e entry) GetID() string { return e.ID }

// fakeSource serves a sorted collection honoring `id_gt: $lastId` and `first`.
type fakeSource struct {
	records []entry
	limit   int
	calls   []map[string]any
	failAt  int
	// replay makes every page restart from the beginning, as a broken cursor filter would
	replay bool
}

func newFakeSource(n, limit int) *fakeSource {
	recs := make([]entry, n)
	for i := range recs {
		recs[i] = entry{ID: fmt.Sprintf("0x%040x", i+1), Balance: fmt.Sprint(i + 1)}
	}
	return &fakeSource{records: recs, limit: limit}
}

func (f *fakeSource) Query(_ context.Context, _ string, vars map[string]any) (map[string]json.RawMessage, error) {
	f.calls = append(f.calls, vars)
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return nil, errors.New("connection reset")
	}
	lastID, _ := vars["lastId"].(string)
	start := sort.Search(len(f.records), func(i int) bool { return f.records[i].ID > lastID })
	if f.replay {
		start = 0
	}
	end := min(start+f.limit, len(f.records))
	page, err := json.Marshal(f.records[start:end])
	if err != nil {
		return nil, err
	}
	return map[string]json.RawMessage{"userBalances": page}, nil
}

func request(pageSize int) Request {
	return Request{
		Query:      "query",
		Collection: "userBalances",
		Variables:  map[string]any{"block": uint64(123)},
		PageSize:   pageSize,
	}
}

func TestFetchAllExhaustive(t *testing.T) {
	src := newFakeSource(2500, 1000)

	got, err := FetchAll[entry](context.Background(), src, request(1000))
	require.NoError(t, err)

	assert.Len(t, got, 2500)
	assert.Len(t, src.calls, 3)
	seen := make(map[string]bool, len(got))
	for i, e := range got {
		assert.False(t, seen[e.ID], "duplicate %s", e.ID)
		seen[e.ID] = true
		if i > 0 {
			assert.Less(t, got[i-1].ID, e.ID)
		}
	}
}

func TestFetchAllCursorAndVariables(t *testing.T) {
	src := newFakeSource(25, 10)

	_, err := FetchAll[entry](context.Background(), src, request(10))
	require.NoError(t, err)

	require.Len(t, src.calls, 3)
	assert.Equal(t, InitialCursor, src.calls[0]["lastId"])
	assert.Equal(t, src.records[9].ID, src.calls[1]["lastId"])
	assert.Equal(t, src.records[19].ID, src.calls[2]["lastId"])
	for _, c := range src.calls {
		assert.Equal(t, uint64(123), c["block"])
	}
}

func TestFetchAllBoundary(t *testing.T) {
	tests := []struct {
		name      string
		records   int
		pageSize  int
		wantCalls int
	}{
		{"empty collection", 0, 10, 1},
		{"single short page", 3, 10, 1},
		{"exact single page needs empty follow-up", 10, 10, 2},
		{"exact multiple of page size", 30, 10, 4},
		{"not a multiple", 31, 10, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(tt.records, tt.pageSize)
			got, err := FetchAll[entry](context.Background(), src, request(tt.pageSize))
			require.NoError(t, err)
			assert.Len(t, got, tt.records)
			assert.Len(t, src.calls, tt.wantCalls)
		})
	}
}

func TestFetchAllErrorFailsWholeFetch(t *testing.T) {
	src := newFakeSource(50, 10)
	src.failAt = 3

	got, err := FetchAll[entry](context.Background(), src, request(10))
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "page 3")
	assert.Len(t, src.calls, 3)
}

func TestFetchAllPageSizeMismatch(t *testing.T) {
	// server returns up to 100 but the client believes pages hold 10
	src := newFakeSource(50, 100)
	_, err := FetchAll[entry](context.Background(), src, request(10))
	assert.True(t, errors.Is(err, ErrPageSizeMismatch))
}

func TestFetchAllCursorNotAdvancing(t *testing.T) {
	src := newFakeSource(50, 10)
	src.replay = true

	_, err := FetchAll[entry](context.Background(), src, request(10))
	assert.True(t, errors.Is(err, ErrCursorNotAdvancing))
	assert.Len(t, src.calls, 2)
}

func TestFetchAllMissingCollection(t *testing.T) {
	q := querierFunc(func(context.Context, string, map[string]any) (map[string]json.RawMessage, error) {
		return map[string]json.RawMessage{"other": json.RawMessage(`[]`)}, nil
	})
	_, err := FetchAll[entry](context.Background(), q, request(10))
	assert.True(t, errors.Is(err, ErrMissingCollection))
}

func TestPagerNotRestartable(t *testing.T) {
	src := newFakeSource(15, 10)
	p := NewPager[entry](src, request(10))
	ctx := context.Background()

	page, ok, err := p.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, page, 10)
	assert.Equal(t, src.records[9].ID, p.Cursor())

	page, ok, err = p.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, page, 5)

	for i := 0; i < 3; i++ {
		page, ok, err = p.Next(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, page)
	}
	assert.Equal(t, 2, p.Requests())
	assert.Len(t, src.calls, 2)
}

func TestPagerStopsAfterError(t *testing.T) {
	src := newFakeSource(50, 10)
	src.failAt = 1
	p := NewPager[entry](src, request(10))

	_, ok, err := p.Next(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)

	_, ok, err = p.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, src.calls, 1)
}

func TestPagerDefaultPageSize(t *testing.T) {
	src := newFakeSource(DefaultPageSize+1, DefaultPageSize)
	got, err := FetchAll[entry](context.Background(), src, Request{Collection: "userBalances"})
	require.NoError(t, err)
	assert.Len(t, got, DefaultPageSize+1)
	assert.Len(t, src.calls, 2)
}

func TestFetchOne(t *testing.T) {
	q := querierFunc(func(_ context.Context, _ string, vars map[string]any) (map[string]json.RawMessage, error) {
		assert.Equal(t, "0xpool", vars["id"])
		return map[string]json.RawMessage{"pool": json.RawMessage(`{"id":"0xpool","balance":"7"}`)}, nil
	})
	got, err := FetchOne[entry](context.Background(), q, "query", "pool", map[string]any{"id": "0xpool"})
	require.NoError(t, err)
	assert.Equal(t, entry{ID: "0xpool", Balance: "7"}, got)
}

type querierFunc func(ctx context.Context, query string, vars map[string]any) (map[string]json.RawMessage, error)

func (f querierFunc) Query(ctx context.Context, query string, vars map[string]any) (map[string]json.RawMessage, error) {
	return f(ctx, query, vars)
}
