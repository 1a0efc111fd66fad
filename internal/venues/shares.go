package venues

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/matrixise/holder-snapshot/internal/graph"
	"github.com/matrixise/holder-snapshot/internal/holders"
)

// SharesConfig describes a venue exposing a flat `{ id balance }` collection,
// such as SY token holders of a yield-splitting market or pool LP shares.
// The entity id always drives pagination. When it is not the holder address
// (e.g. `"<pool>-<user>"`), HolderField names the field carrying the address,
// either as a string or as a `{ id }` entity reference.
type SharesConfig struct {
	Name        string
	Query       string
	Collection  string
	Unit        holders.Unit
	HolderField string
	// Asset is passed to the query as $asset when set
	Asset string
}

// shareEntry keeps the raw entity so the holder field can be chosen at runtime.
type shareEntry struct {
	ID      string
	Balance string
	fields  map[string]json.RawMessage
}

func (e *shareEntry) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &e.fields); err != nil {
		return err
	}
	var base balanceEntry
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	e.ID, e.Balance = base.ID, base.Balance
	return nil
}

func (e shareEntry) GetID() string { return e.ID }

func (e shareEntry) holder(field string) (string, error) {
	if field == "" || field == "id" {
		return e.ID, nil
	}
	raw, ok := e.fields[field]
	if !ok || string(raw) == "null" {
		return "", errors.Errorf("entity %s has no %q field", e.ID, field)
	}
	var addr string
	if err := json.Unmarshal(raw, &addr); err == nil {
		return addr, nil
	}
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil || ref.ID == "" {
		return "", errors.Errorf("entity %s: %q is neither an address nor an entity reference", e.ID, field)
	}
	return ref.ID, nil
}

// Shares is a generic share-token venue.
type Shares struct {
	cfg SharesConfig
	q   graph.Querier
}

// NewShares creates a share-token venue.
func NewShares(cfg SharesConfig, q graph.Querier) *Shares {
	if cfg.Unit == "" {
		cfg.Unit = holders.UnitBase
	}
	return &Shares{cfg: cfg, q: q}
}

// Name returns the configured venue name.
func (s *Shares) Name() string { return s.cfg.Name }

// Shares pages the collection at block and reports every non-zero balance
// under the holder address.
func (s *Shares) Shares(ctx context.Context, block uint64) ([]holders.Share, error) {
	vars := map[string]any{"block": block}
	if s.cfg.Asset != "" {
		vars["asset"] = holders.NormalizeAddress(s.cfg.Asset)
	}
	entries, err := graph.FetchAll[shareEntry](ctx, s.q, graph.Request{
		Query:      s.cfg.Query,
		Collection: s.cfg.Collection,
		Variables:  vars,
		PageSize:   graph.DefaultPageSize,
	})
	if err != nil {
		return nil, err
	}

	shares := make([]holders.Share, 0, len(entries))
	for _, e := range entries {
		holder, err := e.holder(s.cfg.HolderField)
		if err != nil {
			return nil, err
		}
		amount, err := holders.ParseAmount(e.Balance)
		if err != nil {
			return nil, errors.Wrapf(err, "holder %s", holder)
		}
		if amount.Sign() == 0 {
			continue
		}
		shares = append(shares, holders.Share{
			Holder: holders.NormalizeAddress(holder),
			Amount: amount,
			Unit:   s.cfg.Unit,
		})
	}
	return shares, nil
}
