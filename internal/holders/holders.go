// Package holders holds the venue-independent holder model: native shares,
// their conversion to base-asset units and the merged balance snapshot.
package holders

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
)

// ZeroAddress is the first pagination cursor and the mint/burn counterparty.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress lowercases and trims an address so it can be used as a map key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// HolderRecord is one holder's balance in base-asset units.
type HolderRecord struct {
	ID      string
	Balance *big.Int
}

type holderRecordJSON struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
}

// MarshalJSON encodes the balance as a decimal string.
func (r HolderRecord) MarshalJSON() ([]byte, error) {
	balance := "0"
	if r.Balance != nil {
		balance = r.Balance.String()
	}
	return json.Marshal(holderRecordJSON{ID: r.ID, Balance: balance})
}

// UnmarshalJSON decodes {id, balance} where balance is an integer string.
func (r *HolderRecord) UnmarshalJSON(data []byte) error {
	var raw holderRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}
	balance, err := ParseAmount(raw.Balance)
	if err != nil {
		return errors.Wrapf(err, "holder %s", raw.ID)
	}
	r.ID = NormalizeAddress(raw.ID)
	r.Balance = balance
	return nil
}

// ParseAmount parses a base-10 integer string. An empty string is zero.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid integer amount %q", s)
	}
	return v, nil
}

// Unit identifies the native unit a venue reports shares in.
type Unit string

// UnitBase is the tracked asset itself; shares in this unit need no conversion.
const UnitBase Unit = "base"

// Share is one venue's claim for one holder, in the venue's native unit.
type Share struct {
	Holder string
	Amount *big.Int
	Unit   Unit
}

// PortfolioShare collapses the sub-shares of a composite position into one
// Share. Sub-shares are summed before any rate conversion is applied.
func PortfolioShare(holder string, unit Unit, subShares ...*big.Int) Share {
	total := new(big.Int)
	for _, s := range subShares {
		if s != nil {
			total.Add(total, s)
		}
	}
	return Share{Holder: NormalizeAddress(holder), Amount: total, Unit: unit}
}
