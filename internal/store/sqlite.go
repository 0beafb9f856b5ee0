// Package store provides SQLite-backed storage for the model engine: the
// content-addressed object store, change set pointers and the dependent value
// queue.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"kai-model/internal/cas"
	"kai-model/internal/ids"
	"kai-model/internal/session"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrChangeSetNotFound = errors.New("change set not found")
	ErrCorruptObject     = errors.New("corrupt object")
)

// Queue item statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

const batchSize = 500

// DB wraps a SQLite connection.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	path string

	enc *zstd.Encoder
	dec *zstd.Decoder

	closeOnce sync.Once
	closeErr  error
}

// OpenDataDir opens or creates the database under a data directory.
func OpenDataDir(root string) (*DB, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return Open(filepath.Join(root, "kaimodel.db"))
}

// Open opens a database at the given path.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		conn.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &DB{conn: conn, path: dbPath, enc: enc, dec: dec}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection. Later calls return the first
// result.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.dec.Close()
		encErr := db.enc.Close()
		db.closeErr = errors.Join(db.conn.Close(), encErr)
	})
	return db.closeErr
}

// ----- CAS -----

// Write stores content, compressed, under its BLAKE3 hash. Writing content
// that is already present is a no-op and reports isNew false.
func (db *DB) Write(ctx context.Context, content []byte, tenancy cas.Tenancy, actor cas.Actor) (cas.ContentHash, bool, error) {
	hash := cas.Hash(content)
	blob := db.enc.EncodeAll(content, nil)

	result, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO cas_objects (hash, size, blob, workspace_pk, change_set_id, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hash[:], len(content), blob,
		tenancy.WorkspacePk.String(), tenancy.ChangeSetID.String(), string(actor), cas.NowMs(),
	)
	if err != nil {
		return cas.ContentHash{}, false, fmt.Errorf("inserting object: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return cas.ContentHash{}, false, fmt.Errorf("checking insert: %w", err)
	}
	return hash, n == 1, nil
}

// ReadMany returns the content of every requested hash that is present.
func (db *DB) ReadMany(ctx context.Context, hashes []cas.ContentHash) (map[cas.ContentHash][]byte, error) {
	result := make(map[cas.ContentHash][]byte, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}

	unique := make([]cas.ContentHash, 0, len(hashes))
	seen := make(map[cas.ContentHash]bool, len(hashes))
	for _, h := range hashes {
		if !seen[h] {
			seen[h] = true
			unique = append(unique, h)
		}
	}

	// Process in batches to stay under the SQLite variable limit
	for i := 0; i < len(unique); i += batchSize {
		end := i + batchSize
		if end > len(unique) {
			end = len(unique)
		}
		batch := unique[i:end]

		placeholders := make([]string, len(batch))
		args := make([]interface{}, len(batch))
		for j, h := range batch {
			placeholders[j] = "?"
			args[j] = h[:]
		}

		query := fmt.Sprintf(
			`SELECT hash, size, blob FROM cas_objects WHERE hash IN (%s)`,
			strings.Join(placeholders, ","),
		)
		if err := db.readBatch(ctx, query, args, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (db *DB) readBatch(ctx context.Context, query string, args []interface{}, into map[cas.ContentHash][]byte) error {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw, blob []byte
		var size int
		if err := rows.Scan(&raw, &size, &blob); err != nil {
			return fmt.Errorf("scanning object: %w", err)
		}
		hash, err := hashFromBytes(raw)
		if err != nil {
			return err
		}
		content, err := db.dec.DecodeAll(blob, make([]byte, 0, size))
		if err != nil {
			return fmt.Errorf("%w: decompressing %s: %v", ErrCorruptObject, hash.Short(), err)
		}
		into[hash] = content
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating objects: %w", err)
	}
	return nil
}

// ObjectCount returns the number of stored objects.
func (db *DB) ObjectCount(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cas_objects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting objects: %w", err)
	}
	return n, nil
}

// ----- Change set pointers -----

// ChangeSetPointer is the snapshot a change set currently points at.
type ChangeSetPointer struct {
	WorkspacePk     ids.WorkspacePk
	ChangeSetID     ids.ChangeSetID
	SnapshotAddress cas.ContentHash
	Actor           cas.Actor
	UpdatedAt       int64
}

// CommitChangeSet moves the change set pointer and enqueues dependent values
// in one transaction.
func (db *DB) CommitChangeSet(ctx context.Context, c session.Commit) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ts := cas.NowMs()
	workspace := c.WorkspaceID.String()
	changeSet := c.ChangeSetID.String()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO change_set_pointers (workspace_pk, change_set_id, snapshot_address, actor, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (workspace_pk, change_set_id) DO UPDATE SET
		   snapshot_address = excluded.snapshot_address,
		   actor = excluded.actor,
		   updated_at = excluded.updated_at`,
		workspace, changeSet, c.SnapshotAddress[:], string(c.Actor), ts,
	)
	if err != nil {
		return fmt.Errorf("updating change set pointer: %w", err)
	}

	for _, value := range c.DependentValues {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO dependent_value_queue (workspace_pk, change_set_id, attribute_value_id, snapshot_address, status, created_at)
			 VALUES (?, ?, ?, ?, 'pending', ?)`,
			workspace, changeSet, value.String(), c.SnapshotAddress[:], ts,
		)
		if err != nil {
			return fmt.Errorf("enqueueing dependent value: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing change set: %w", err)
	}
	return nil
}

// GetChangeSetPointer returns the current pointer of a change set.
func (db *DB) GetChangeSetPointer(ctx context.Context, workspace ids.WorkspacePk, changeSet ids.ChangeSetID) (*ChangeSetPointer, error) {
	var raw []byte
	var actor string
	p := ChangeSetPointer{WorkspacePk: workspace, ChangeSetID: changeSet}
	err := db.conn.QueryRowContext(ctx,
		`SELECT snapshot_address, actor, updated_at FROM change_set_pointers WHERE workspace_pk = ? AND change_set_id = ?`,
		workspace.String(), changeSet.String(),
	).Scan(&raw, &actor, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrChangeSetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying change set pointer: %w", err)
	}

	p.SnapshotAddress, err = hashFromBytes(raw)
	if err != nil {
		return nil, err
	}
	p.Actor = cas.Actor(actor)
	return &p, nil
}

// ListChangeSetPointers returns every change set of a workspace, most
// recently updated first.
func (db *DB) ListChangeSetPointers(ctx context.Context, workspace ids.WorkspacePk) ([]ChangeSetPointer, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT change_set_id, snapshot_address, actor, updated_at FROM change_set_pointers
		 WHERE workspace_pk = ? ORDER BY updated_at DESC, change_set_id ASC`,
		workspace.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying change set pointers: %w", err)
	}
	defer rows.Close()

	var pointers []ChangeSetPointer
	for rows.Next() {
		var changeSet, actor string
		var raw []byte
		p := ChangeSetPointer{WorkspacePk: workspace}
		if err := rows.Scan(&changeSet, &raw, &actor, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning change set pointer: %w", err)
		}
		if p.ChangeSetID, err = ids.Parse(changeSet); err != nil {
			return nil, fmt.Errorf("%w: change set id %q", ErrCorruptObject, changeSet)
		}
		if p.SnapshotAddress, err = hashFromBytes(raw); err != nil {
			return nil, err
		}
		p.Actor = cas.Actor(actor)
		pointers = append(pointers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating change set pointers: %w", err)
	}
	return pointers, nil
}

// ----- Dependent value queue -----

// DependentValueItem is one attribute value waiting for recomputation.
type DependentValueItem struct {
	ID               int64
	WorkspacePk      ids.WorkspacePk
	ChangeSetID      ids.ChangeSetID
	AttributeValueID ids.AttributeValueID
	SnapshotAddress  cas.ContentHash
	Status           string
	CreatedAt        int64
	StartedAt        *int64
}

// ClaimDependentValues atomically claims up to limit pending items, oldest
// first.
func (db *DB) ClaimDependentValues(ctx context.Context, limit int) ([]DependentValueItem, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, workspace_pk, change_set_id, attribute_value_id, snapshot_address, created_at
		 FROM dependent_value_queue WHERE status = 'pending' ORDER BY id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying queue: %w", err)
	}

	var items []DependentValueItem
	for rows.Next() {
		var workspace, changeSet, value string
		var raw []byte
		var item DependentValueItem
		if err := rows.Scan(&item.ID, &workspace, &changeSet, &value, &raw, &item.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		if err := item.decode(workspace, changeSet, value, raw); err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ts := cas.NowMs()
	for i := range items {
		_, err := tx.ExecContext(ctx,
			`UPDATE dependent_value_queue SET status = 'processing', started_at = ? WHERE id = ?`,
			ts, items[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("updating queue item: %w", err)
		}
		items[i].Status = StatusProcessing
		items[i].StartedAt = &ts
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return items, nil
}

func (item *DependentValueItem) decode(workspace, changeSet, value string, address []byte) error {
	var err error
	if item.WorkspacePk, err = ids.Parse(workspace); err != nil {
		return fmt.Errorf("%w: workspace %q", ErrCorruptObject, workspace)
	}
	if item.ChangeSetID, err = ids.Parse(changeSet); err != nil {
		return fmt.Errorf("%w: change set %q", ErrCorruptObject, changeSet)
	}
	if item.AttributeValueID, err = ids.Parse(value); err != nil {
		return fmt.Errorf("%w: attribute value %q", ErrCorruptObject, value)
	}
	item.SnapshotAddress, err = hashFromBytes(address)
	return err
}

// CompleteDependentValue marks an item as done, or failed when errMsg is set.
func (db *DB) CompleteDependentValue(ctx context.Context, id int64, errMsg string) error {
	status := StatusDone
	var errPtr *string
	if errMsg != "" {
		status = StatusFailed
		errPtr = &errMsg
	}

	_, err := db.conn.ExecContext(ctx,
		`UPDATE dependent_value_queue SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		status, cas.NowMs(), errPtr, id,
	)
	if err != nil {
		return fmt.Errorf("completing dependent value: %w", err)
	}
	return nil
}

// RequeueStale returns items stuck in processing since before cutoffMs to
// pending. It reports how many were requeued.
func (db *DB) RequeueStale(ctx context.Context, cutoffMs int64) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE dependent_value_queue SET status = 'pending', started_at = NULL
		 WHERE status = 'processing' AND started_at < ?`,
		cutoffMs,
	)
	if err != nil {
		return 0, fmt.Errorf("requeueing stale items: %w", err)
	}
	return result.RowsAffected()
}

// QueueStats counts queue items by status.
func (db *DB) QueueStats(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM dependent_value_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning queue stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// ----- Utilities -----

func hashFromBytes(b []byte) (cas.ContentHash, error) {
	var h cas.ContentHash
	if len(b) != len(h) {
		return h, fmt.Errorf("%w: hash of %d bytes", ErrCorruptObject, len(b))
	}
	copy(h[:], b)
	return h, nil
}
