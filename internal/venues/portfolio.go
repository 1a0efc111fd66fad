package venues

import (
	"context"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/matrixise/holder-snapshot/internal/graph"
	"github.com/matrixise/holder-snapshot/internal/holders"
)

// PortfolioQuery lists accounts holding a non-zero position in $asset.
const PortfolioQuery = `
query PortfolioAccounts($block: Int, $lastId: ID!, $asset: String!) {
  accounts(
    where: { id_gt: $lastId, portfolio_: { balance_not: "0", asset: $asset } }
    block: { number: $block }
    orderBy: id
    orderDirection: asc
    first: 1000
  ) {
    id
    portfolio(where: { asset: $asset }) {
      balance
    }
  }
}`

type portfolioAccount struct {
	ID        string `json:"id"`
	Portfolio []struct {
		Balance string `json:"balance"`
	} `json:"portfolio"`
}

func (a portfolioAccount) GetID() string { return a.ID }

// Portfolio is a basket-style venue where each account holds several
// sub-positions of the same wrapped asset.
type Portfolio struct {
	name  string
	asset string
	unit  holders.Unit
	q     graph.Querier
}

// NewPortfolio creates a portfolio venue tracking asset, reported in unit.
func NewPortfolio(name, asset string, unit holders.Unit, q graph.Querier) *Portfolio {
	return &Portfolio{name: name, asset: holders.NormalizeAddress(asset), unit: unit, q: q}
}

// Name returns the configured venue name.
func (p *Portfolio) Name() string { return p.name }

// Shares reports, per account holding the asset at block, the sum of its
// portfolio balances.
func (p *Portfolio) Shares(ctx context.Context, block uint64) ([]holders.Share, error) {
	accounts, err := graph.FetchAll[portfolioAccount](ctx, p.q, graph.Request{
		Query:      PortfolioQuery,
		Collection: "accounts",
		Variables:  map[string]any{"block": block, "asset": p.asset},
		PageSize:   graph.DefaultPageSize,
	})
	if err != nil {
		return nil, err
	}

	shares := make([]holders.Share, 0, len(accounts))
	for _, a := range accounts {
		parts := make([]*big.Int, 0, len(a.Portfolio))
		for _, line := range a.Portfolio {
			v, err := holders.ParseAmount(line.Balance)
			if err != nil {
				return nil, errors.Wrapf(err, "account %s", a.ID)
			}
			parts = append(parts, v)
		}
		share := holders.PortfolioShare(a.ID, p.unit, parts...)
		if share.Amount.Sign() == 0 {
			continue
		}
		shares = append(shares, share)
	}
	return shares, nil
}
