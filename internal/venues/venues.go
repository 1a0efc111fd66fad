// Package venues turns each liquidity venue's indexed data into holder shares
// at a historical block.
package venues

import (
	"context"

	"github.com/matrixise/holder-snapshot/internal/holders"
)

// Venue reports every holder's claim at a block in the venue's native unit.
type Venue interface {
	Name() string
	Shares(ctx context.Context, block uint64) ([]holders.Share, error)
}

// balanceEntry is the `{ id balance }` shape shared by most holder collections.
type balanceEntry struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
}

func (e balanceEntry) GetID() string { return e.ID }
