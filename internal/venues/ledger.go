package venues

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/matrixise/holder-snapshot/internal/graph"
	"github.com/matrixise/holder-snapshot/internal/holders"
)

// LedgerQuery lists positive token balances, skipping blacklisted contracts.
const LedgerQuery = `
query LedgerBalances($block: Int, $lastId: ID!, $blacklisted: [ID!]!) {
  userBalances(
    where: { balance_gt: "0", id_gt: $lastId, id_not_in: $blacklisted }
    block: { number: $block }
    orderBy: id
    orderDirection: asc
    first: 1000
  ) {
    id
    balance
  }
}`

// Ledger reads direct token balances of the tracked asset.
type Ledger struct {
	name      string
	q         graph.Querier
	blacklist holders.Blacklist
}

// NewLedger creates the native ledger venue.
func NewLedger(name string, q graph.Querier, blacklist holders.Blacklist) *Ledger {
	return &Ledger{name: name, q: q, blacklist: blacklist}
}

// Name returns the configured venue name.
func (l *Ledger) Name() string { return l.name }

// Holders returns every positive balance at block, already in base units.
// Blacklisted ids are filtered by the query and again locally.
func (l *Ledger) Holders(ctx context.Context, block uint64) ([]holders.HolderRecord, error) {
	entries, err := graph.FetchAll[balanceEntry](ctx, l.q, graph.Request{
		Query:      LedgerQuery,
		Collection: "userBalances",
		Variables: map[string]any{
			"block":       block,
			"blacklisted": l.blacklist.Addresses(),
		},
		PageSize: graph.DefaultPageSize,
	})
	if err != nil {
		return nil, err
	}

	records := make([]holders.HolderRecord, 0, len(entries))
	for _, e := range entries {
		if l.blacklist.Contains(e.ID) {
			continue
		}
		balance, err := holders.ParseAmount(e.Balance)
		if err != nil {
			return nil, errors.Wrapf(err, "holder %s", e.ID)
		}
		if balance.Sign() <= 0 {
			continue
		}
		records = append(records, holders.HolderRecord{ID: holders.NormalizeAddress(e.ID), Balance: balance})
	}
	return records, nil
}

// Shares reports the ledger holders as base-unit shares.
func (l *Ledger) Shares(ctx context.Context, block uint64) ([]holders.Share, error) {
	records, err := l.Holders(ctx, block)
	if err != nil {
		return nil, err
	}
	shares := make([]holders.Share, len(records))
	for i, r := range records {
		shares[i] = holders.Share{Holder: r.ID, Amount: r.Balance, Unit: holders.UnitBase}
	}
	return shares, nil
}
