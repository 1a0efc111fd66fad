package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixise/holder-snapshot/internal/holders"
)

const (
	// DefaultPageLimit is the number of holder rows returned when no limit is given
	DefaultPageLimit = 1000
	// MaxPageLimit caps a single holder page
	MaxPageLimit = 5000
)

// ErrSnapshotNotFound is returned when no snapshot exists for the requested block
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Store manages PostgreSQL operations
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store with connection pooling
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping PostgreSQL")
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSnapshot persists a merged snapshot, replacing any earlier snapshot
// stored for the same block.
func (s *Store) SaveSnapshot(ctx context.Context, snap *holders.Snapshot, takenAt time.Time) error {
	info, rows := rowsFromSnapshot(snap, takenAt)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE block = $1`, info.Block); err != nil {
		return errors.Wrapf(err, "failed to clear snapshot %d", info.Block)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO snapshots (block, taken_at, holder_count, total)
		VALUES ($1, $2, $3, $4)`,
		info.Block, info.TakenAt, info.HolderCount, info.Total,
	); err != nil {
		return errors.Wrapf(err, "failed to insert snapshot %d", info.Block)
	}

	if len(rows) > 0 {
		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"holder_balances"},
			[]string{"block", "holder", "balance"},
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				return []any{info.Block, rows[i].Holder, rows[i].Balance}, nil
			}),
		)
		if err != nil {
			return errors.Wrapf(err, "failed to copy holder balances for block %d", info.Block)
		}
		if int(copied) != len(rows) {
			return errors.Errorf("copied %d of %d holder balances for block %d", copied, len(rows), info.Block)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit snapshot")
	}
	return nil
}

// LatestSnapshot returns the header of the snapshot with the highest block
func (s *Store) LatestSnapshot(ctx context.Context) (SnapshotInfo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT block, taken_at, holder_count, total
		FROM snapshots ORDER BY block DESC LIMIT 1`)
	return scanInfo(row)
}

// GetSnapshot returns the header of the snapshot stored for block
func (s *Store) GetSnapshot(ctx context.Context, block uint64) (SnapshotInfo, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT block, taken_at, holder_count, total
		FROM snapshots WHERE block = $1`, block)
	return scanInfo(row)
}

// ListBalances returns up to limit holder rows of a snapshot with holder
// strictly greater than after, ordered by holder.
func (s *Store) ListBalances(ctx context.Context, block uint64, after string, limit int) ([]HolderBalance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT holder, balance
		FROM holder_balances
		WHERE block = $1 AND holder > $2
		ORDER BY holder ASC
		LIMIT $3`,
		block, holders.NormalizeAddress(after), ClampLimit(limit),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query balances for block %d", block)
	}

	balances, err := pgx.CollectRows(rows, pgx.RowToStructByPos[HolderBalance])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan balances for block %d", block)
	}
	return balances, nil
}

func scanInfo(row pgx.Row) (SnapshotInfo, error) {
	var info SnapshotInfo
	if err := row.Scan(&info.Block, &info.TakenAt, &info.HolderCount, &info.Total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SnapshotInfo{}, ErrSnapshotNotFound
		}
		return SnapshotInfo{}, errors.Wrap(err, "failed to scan snapshot")
	}
	return info, nil
}

// ClampLimit bounds a requested page size to (0, MaxPageLimit]
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return limit
	}
}
