package holders

import (
	"math/big"
	"sort"
)

// Snapshot is the merged holder table at one block, in base-asset units.
// It only contains strictly positive balances.
type Snapshot struct {
	Block    uint64
	Balances map[string]*big.Int
}

// MergeOption customizes Merge.
type MergeOption func(*mergeOptions)

type mergeOptions struct {
	blacklist Blacklist
}

// WithBlacklist drops blacklisted holders from the merged output.
func WithBlacklist(b Blacklist) MergeOption {
	return func(o *mergeOptions) {
		o.blacklist = b
	}
}

// Merge sums every record of every venue per holder id.
//
// Totals that end up zero or negative are dropped, whichever venue produced
// them. Transfer-delta venues can report negative nets for a holder; those
// are summed with the holder's other venues first and the combined total
// decides whether the holder is kept.
func Merge(block uint64, sets [][]HolderRecord, opts ...MergeOption) *Snapshot {
	var o mergeOptions
	for _, opt := range opts {
		opt(&o)
	}

	acc := make(map[string]*big.Int)
	for _, set := range sets {
		for _, r := range set {
			if r.Balance == nil {
				continue
			}
			id := NormalizeAddress(r.ID)
			cur, ok := acc[id]
			if !ok {
				cur = new(big.Int)
				acc[id] = cur
			}
			cur.Add(cur, r.Balance)
		}
	}

	for id, bal := range acc {
		if bal.Sign() <= 0 || o.blacklist.Contains(id) {
			delete(acc, id)
		}
	}
	return &Snapshot{Block: block, Balances: acc}
}

// Len returns the number of holders.
func (s *Snapshot) Len() int {
	return len(s.Balances)
}

// Balance returns the balance of holder, or zero.
func (s *Snapshot) Balance(holder string) *big.Int {
	if b, ok := s.Balances[NormalizeAddress(holder)]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Total sums every balance in the snapshot.
func (s *Snapshot) Total() *big.Int {
	total := new(big.Int)
	for _, b := range s.Balances {
		total.Add(total, b)
	}
	return total
}

// Rows returns the snapshot as records sorted by holder id.
func (s *Snapshot) Rows() []HolderRecord {
	rows := make([]HolderRecord, 0, len(s.Balances))
	for id, b := range s.Balances {
		rows = append(rows, HolderRecord{ID: id, Balance: new(big.Int).Set(b)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// Sum adds up the balances of records.
func Sum(records []HolderRecord) *big.Int {
	total := new(big.Int)
	for _, r := range records {
		if r.Balance != nil {
			total.Add(total, r.Balance)
		}
	}
	return total
}
