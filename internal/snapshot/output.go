package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/matrixise/holder-snapshot/internal/holders"
)

// Output formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Write renders the snapshot rows sorted by holder in the given format.
func Write(w io.Writer, snap *holders.Snapshot, format string) error {
	switch format {
	case "", FormatJSON:
		return WriteJSON(w, snap)
	case FormatCSV:
		return WriteCSV(w, snap)
	default:
		return errors.Errorf("unsupported output format %q", format)
	}
}

// WriteJSON writes `[{"id": ..., "balance": "..."}]`.
func WriteJSON(w io.Writer, snap *holders.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(snap.Rows()), "failed to encode snapshot")
}

// WriteCSV writes a `block,id,balance` header followed by one row per holder.
func WriteCSV(w io.Writer, snap *holders.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"block", "id", "balance"}); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}
	block := strconv.FormatUint(snap.Block, 10)
	for _, r := range snap.Rows() {
		if err := cw.Write([]string{block, r.ID, r.Balance.String()}); err != nil {
			return errors.Wrap(err, "failed to write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush csv")
}
