// Package graph fetches ordered, id-keyed collections from graph-indexing
// endpoints at a pinned block height.
package graph

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/cockroachdb/errors"
)

// DefaultPageSize must equal the `first:` limit of every paginated query.
const DefaultPageSize = 1000

// InitialCursor is the cursor of the first page.
const InitialCursor = "0x0000000000000000000000000000000000000000"

var (
	ErrPageSizeMismatch   = errors.New("page larger than page size")
	ErrCursorNotAdvancing = errors.New("page ids not strictly increasing")
	ErrMissingCollection  = errors.New("collection missing from response")
)

// Querier executes a single query and returns the response's data object.
type Querier interface {
	Query(ctx context.Context, query string, variables map[string]any) (map[string]json.RawMessage, error)
}

// Identified is a record with a pagination id.
type Identified interface {
	GetID() string
}

// Request describes a paginated collection query. Query must declare a
// `$lastId` variable, filter with `id_gt: $lastId`, order by id ascending
// and limit results with `first` equal to PageSize.
type Request struct {
	Query      string
	Collection string
	Variables  map[string]any
	PageSize   int
}

// Pager walks a collection page by page. It is finite and cannot be restarted:
// once it reports the last page or an error, Next keeps returning false.
type Pager[T Identified] struct {
	q        Querier
	req      Request
	cursor   string
	requests int
	done     bool
}

// NewPager creates a pager starting at InitialCursor.
func NewPager[T Identified](q Querier, req Request) *Pager[T] {
	if req.PageSize <= 0 {
		req.PageSize = DefaultPageSize
	}
	return &Pager[T]{q: q, req: req, cursor: InitialCursor}
}

// Cursor returns the id the next page starts after.
func (p *Pager[T]) Cursor() string {
	return p.cursor
}

// Requests returns how many queries have been issued.
func (p *Pager[T]) Requests() int {
	return p.requests
}

// Next fetches the next page. It returns ok=false once the collection is
// exhausted or after an error.
func (p *Pager[T]) Next(ctx context.Context) (page []T, ok bool, err error) {
	if p.done {
		return nil, false, nil
	}

	vars := make(map[string]any, len(p.req.Variables)+1)
	maps.Copy(vars, p.req.Variables)
	vars["lastId"] = p.cursor

	p.requests++
	page, err = decodeCollection[[]T](ctx, p.q, p.req.Query, p.req.Collection, vars)
	if err != nil {
		p.done = true
		return nil, false, err
	}

	if len(page) > p.req.PageSize {
		p.done = true
		return nil, false, errors.Wrapf(ErrPageSizeMismatch, "%s: got %d records, page size %d", p.req.Collection, len(page), p.req.PageSize)
	}
	if len(page) < p.req.PageSize {
		p.done = true
	}
	if len(page) == 0 {
		return nil, false, nil
	}

	prev := p.cursor
	for _, rec := range page {
		id := rec.GetID()
		if id <= prev {
			p.done = true
			return nil, false, errors.Wrapf(ErrCursorNotAdvancing, "%s: id %q after %q", p.req.Collection, id, prev)
		}
		prev = id
	}
	p.cursor = prev

	return page, true, nil
}

// FetchAll drains the collection into one slice. Any failure fails the
// whole fetch and no partial result is returned.
func FetchAll[T Identified](ctx context.Context, q Querier, req Request) ([]T, error) {
	p := NewPager[T](q, req)
	var all []T
	for {
		page, ok, err := p.Next(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch %s page %d", req.Collection, p.Requests())
		}
		if !ok {
			return all, nil
		}
		all = append(all, page...)
	}
}

// FetchOne runs a non-paginated query and decodes a single collection key.
func FetchOne[T any](ctx context.Context, q Querier, query, collection string, variables map[string]any) (T, error) {
	return decodeCollection[T](ctx, q, query, collection, variables)
}

func decodeCollection[T any](ctx context.Context, q Querier, query, collection string, variables map[string]any) (T, error) {
	var out T
	data, err := q.Query(ctx, query, variables)
	if err != nil {
		return out, errors.Wrapf(err, "query %s", collection)
	}
	raw, ok := data[collection]
	if !ok {
		return out, errors.Wrapf(ErrMissingCollection, "%q", collection)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrapf(err, "decode %s", collection)
	}
	return out, nil
}
