package storage

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/holder-snapshot/internal/holders"
)

// SnapshotInfo is the header row of a persisted snapshot
type SnapshotInfo struct {
	Block       uint64          `json:"block"`
	TakenAt     time.Time       `json:"taken_at"`
	HolderCount int             `json:"holder_count"`
	Total       decimal.Decimal `json:"total"`
}

// HolderBalance is one holder row of a persisted snapshot, in base units
type HolderBalance struct {
	Holder  string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

// Record converts the row back to an integer holder record
func (b HolderBalance) Record() holders.HolderRecord {
	return holders.HolderRecord{ID: b.Holder, Balance: b.Balance.BigInt()}
}

// rowsFromSnapshot flattens a snapshot into sorted rows plus its header
func rowsFromSnapshot(snap *holders.Snapshot, takenAt time.Time) (SnapshotInfo, []HolderBalance) {
	records := snap.Rows()
	rows := make([]HolderBalance, len(records))
	for i, r := range records {
		rows[i] = HolderBalance{Holder: r.ID, Balance: toDecimal(r.Balance)}
	}
	info := SnapshotInfo{
		Block:       snap.Block,
		TakenAt:     takenAt.UTC(),
		HolderCount: len(rows),
		Total:       toDecimal(snap.Total()),
	}
	return info, rows
}

func toDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}
