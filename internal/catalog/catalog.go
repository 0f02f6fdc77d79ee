// Package catalog persists resource-queue DDL and segment configuration
// changes to the system catalog over database/sql, the same abstract SQL
// channel spec.md §6 describes. It implements queuemgr.CatalogWriter and
// pool.CatalogWriter so the in-memory tree and pool can commit their
// mutations without knowing the storage engine underneath.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/willschipp/resmgr/internal/queuemgr"
)

// Store wraps a *sql.DB and satisfies both queuemgr.CatalogWriter and
// internal/pool.CatalogWriter.
type Store struct {
	db *sql.DB
}

// Open connects to the catalog database at dsn (a postgres:// URL).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open *sql.DB, letting callers share a pool
// with other subsystems or substitute a test double.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// PersistQueueInsert inserts a new resqueue row. The tree assigns q.OID
// before calling this, so the follow-up "SELECT oid FROM resqueue WHERE
// name = $1" spec.md §6 describes is only needed by callers that don't
// already hold an in-memory oid counter; LookupOID below serves that case.
func (s *Store) PersistQueueInsert(ctx context.Context, q queuemgr.Queue) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resqueue (
			name, parent, active_stats_cluster, memory_limit_cluster,
			core_limit_cluster, resource_upper_factor, allocation_policy,
			vseg_resource_quota, vseg_upper_limit, creation_time, update_time, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active')
	`, q.Name, q.ParentOID, q.ActiveStatements, q.ClusterMemoryPercent,
		q.ClusterVCorePercent, q.ResourceUpperFactor, string(q.AllocatePolicy),
		q.VSegUpperLimitPerSeg, q.VSegUpperLimit, now, now)
	if err != nil {
		return fmt.Errorf("catalog: insert resqueue %s: %w", q.Name, err)
	}
	return nil
}

// LookupOID resolves a resqueue name to its catalog oid, matching the
// SELECT oid FROM resqueue WHERE name = $1 step spec.md §6 describes.
func (s *Store) LookupOID(ctx context.Context, name string) (int, error) {
	var oid int
	if err := s.db.QueryRowContext(ctx, `SELECT oid FROM resqueue WHERE name = $1`, name).Scan(&oid); err != nil {
		return 0, fmt.Errorf("catalog: lookup oid for resqueue %s: %w", name, err)
	}
	return oid, nil
}

// PersistQueueUpdate rewrites a resqueue row's mutable DDL attributes.
func (s *Store) PersistQueueUpdate(ctx context.Context, q queuemgr.Queue) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE resqueue SET
			active_stats_cluster = $2,
			memory_limit_cluster = $3,
			core_limit_cluster = $4,
			resource_upper_factor = $5,
			allocation_policy = $6,
			vseg_resource_quota = $7,
			vseg_upper_limit = $8,
			update_time = $9
		WHERE name = $1
	`, q.Name, q.ActiveStatements, q.ClusterMemoryPercent, q.ClusterVCorePercent,
		q.ResourceUpperFactor, string(q.AllocatePolicy), q.VSegUpperLimitPerSeg,
		q.VSegUpperLimit, time.Now())
	if err != nil {
		return fmt.Errorf("catalog: update resqueue %s: %w", q.Name, err)
	}
	return nil
}

// PersistQueueDelete removes a resqueue row and its dependent catalog
// rows, matching spec.md §6's DELETE FROM resqueue plus cleanup of
// shdescription/stat_last_shoperation/resqueuecapability.
func (s *Store) PersistQueueDelete(ctx context.Context, oid int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin delete: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM shdescription WHERE objoid = $1`,
		`DELETE FROM stat_last_shoperation WHERE objid = $1`,
		`DELETE FROM resqueuecapability WHERE resqueueid = $1`,
		`DELETE FROM resqueue WHERE oid = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, oid); err != nil {
			return fmt.Errorf("catalog: delete resqueue oid %d: %w", oid, err)
		}
	}

	return tx.Commit()
}

// UpsertSegment records a segment's registration_order/hostname/status
// into segment_configuration, matching spec.md §6's
// INSERT/UPDATE/DELETE on segment_configuration for segment birth,
// death-detection, and status changes. role is always 'p' (primary);
// HAWQ's mirror role is out of scope here.
func (s *Store) UpsertSegment(ctx context.Context, segmentID int, hostname string, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segment_configuration (registration_order, role, status, hostname, address)
		VALUES ($1, 'p', $2, $3, $3)
		ON CONFLICT (registration_order) DO UPDATE SET
			status = EXCLUDED.status,
			hostname = EXCLUDED.hostname,
			address = EXCLUDED.address
	`, segmentID, status, hostname)
	if err != nil {
		return fmt.Errorf("catalog: upsert segment_configuration %d: %w", segmentID, err)
	}
	return nil
}
