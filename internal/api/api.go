// Package api serves persisted snapshots over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/matrixise/holder-snapshot/internal/holders"
	"github.com/matrixise/holder-snapshot/internal/storage"
)

// Store is the read side of storage.Store
type Store interface {
	LatestSnapshot(ctx context.Context) (storage.SnapshotInfo, error)
	GetSnapshot(ctx context.Context, block uint64) (storage.SnapshotInfo, error)
	ListBalances(ctx context.Context, block uint64, after string, limit int) ([]storage.HolderBalance, error)
}

// HttpResponse wraps every JSON body
type HttpResponse[T any] struct {
	Error  *string `json:"error"`
	Result *T      `json:"result,omitempty"`
}

type holderBalance struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

type getSnapshotResult struct {
	Block       uint64          `json:"block"`
	TakenAt     time.Time       `json:"takenAt"`
	HolderCount int             `json:"holderCount"`
	Total       decimal.Decimal `json:"total"`
	List        []holderBalance `json:"list"`
	// Next is the cursor for the following page, empty on the last page
	Next string `json:"next,omitempty"`
}

type getSnapshotResponse = HttpResponse[getSnapshotResult]

type handler struct {
	store Store
}

// NewRouter builds the HTTP routes. Without a store only /health is served;
// health may be nil.
func NewRouter(store Store, health http.Handler) http.Handler {
	h := &handler{store: store}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if health != nil {
		r.Method(http.MethodGet, "/health", health)
	}
	if store != nil {
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/latest", h.getLatestSnapshot)
			r.Get("/{block}", h.getSnapshot)
		})
	}
	return r
}

// NewServer creates the HTTP server listening on port
func NewServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (h *handler) getLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.LatestSnapshot(r.Context())
	if err != nil {
		writeStoreError(w, err, "error during LatestSnapshot")
		return
	}
	h.writeSnapshot(w, r, info)
}

func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	block, err := strconv.ParseUint(chi.URLParam(r, "block"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "block must be a non-negative integer")
		return
	}
	info, err := h.store.GetSnapshot(r.Context(), block)
	if err != nil {
		writeStoreError(w, err, "error during GetSnapshot")
		return
	}
	h.writeSnapshot(w, r, info)
}

func (h *handler) writeSnapshot(w http.ResponseWriter, r *http.Request, info storage.SnapshotInfo) {
	after, limit, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.store.ListBalances(r.Context(), info.Block, after, limit)
	if err != nil {
		writeStoreError(w, err, "error during ListBalances")
		return
	}

	result := getSnapshotResult{
		Block:       info.Block,
		TakenAt:     info.TakenAt,
		HolderCount: info.HolderCount,
		Total:       info.Total,
		List:        make([]holderBalance, len(rows)),
	}
	for i, row := range rows {
		result.List[i] = holderBalance{ID: row.Holder, Balance: row.Balance}
	}
	if len(rows) > 0 && len(rows) == limit {
		result.Next = rows[len(rows)-1].Holder
	}

	writeJSON(w, http.StatusOK, getSnapshotResponse{Result: &result})
}

// parsePage reads the holder cursor and page size from the query string
func parsePage(r *http.Request) (after string, limit int, err error) {
	q := r.URL.Query()
	after = holders.NormalizeAddress(q.Get("after"))

	limit = storage.DefaultPageLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return "", 0, errors.New("'limit' must be a positive integer")
		}
		if limit > storage.MaxPageLimit {
			return "", 0, errors.Errorf("'limit' cannot exceed %d", storage.MaxPageLimit)
		}
	}
	return after, limit, nil
}

func writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	slog.Error("API store error", "error", errors.Wrap(err, msg))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, HttpResponse[struct{}]{Error: &msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
