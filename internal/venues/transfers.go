package venues

import (
	"context"
	"math/big"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/matrixise/holder-snapshot/internal/graph"
	"github.com/matrixise/holder-snapshot/internal/holders"
)

// TransfersQuery lists every transfer of one share token up to $block.
const TransfersQuery = `
query ShareTransfers($block: Int, $lastId: ID!, $asset: String!) {
  transfers(
    where: { id_gt: $lastId, block_number_lte: $block, contractId_: $asset }
    orderBy: id
    orderDirection: asc
    first: 1000
  ) {
    id
    from
    to
    value
  }
}`

type transferEntry struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

func (t transferEntry) GetID() string { return t.ID }

// Transfers rebuilds share balances by replaying transfer events, for vaults
// whose indexer only records transfers. Each vault share token has its own
// price, so a venue covers exactly one token contract. Nets can be zero or
// negative for a holder; they are reported as-is and settled by the merge.
type Transfers struct {
	name  string
	asset string
	unit  holders.Unit
	q     graph.Querier
}

// NewTransfers creates a transfer-replay venue for the share token at asset,
// reported in unit.
func NewTransfers(name, asset string, unit holders.Unit, q graph.Querier) *Transfers {
	return &Transfers{name: name, asset: holders.NormalizeAddress(asset), unit: unit, q: q}
}

// Name returns the configured venue name.
func (t *Transfers) Name() string { return t.name }

// Shares replays the token's transfers up to block and reports each
// holder's non-zero net balance.
func (t *Transfers) Shares(ctx context.Context, block uint64) ([]holders.Share, error) {
	transfers, err := graph.FetchAll[transferEntry](ctx, t.q, graph.Request{
		Query:      TransfersQuery,
		Collection: "transfers",
		Variables:  map[string]any{"block": block, "asset": t.asset},
		PageSize:   graph.DefaultPageSize,
	})
	if err != nil {
		return nil, err
	}

	nets, err := netTransfers(transfers)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(nets))
	for id := range nets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	shares := make([]holders.Share, 0, len(ids))
	for _, id := range ids {
		if nets[id].Sign() == 0 {
			continue
		}
		shares = append(shares, holders.Share{Holder: id, Amount: nets[id], Unit: t.unit})
	}
	return shares, nil
}

// netTransfers sums transfers per address: debited on `from`, credited on
// `to`. The zero address is the mint/burn side and is never tracked.
func netTransfers(transfers []transferEntry) (map[string]*big.Int, error) {
	nets := make(map[string]*big.Int)
	add := func(addr string, v *big.Int, sign int) {
		addr = holders.NormalizeAddress(addr)
		if addr == holders.ZeroAddress || addr == "" {
			return
		}
		cur, ok := nets[addr]
		if !ok {
			cur = new(big.Int)
			nets[addr] = cur
		}
		if sign < 0 {
			cur.Sub(cur, v)
		} else {
			cur.Add(cur, v)
		}
	}

	for _, tr := range transfers {
		v, err := holders.ParseAmount(tr.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "transfer %s", tr.ID)
		}
		add(tr.From, v, -1)
		add(tr.To, v, 1)
	}
	return nets, nil
}
