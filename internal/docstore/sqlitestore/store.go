// Package sqlitestore implements docstore.Store on a single SQLite file.
//
// Documents are stored as JSON with a global revision counter. Change streams
// are push-driven: writes made through this process wake every open stream
// directly, and writes made by other processes (the admin UI, the enqueue
// command) are picked up through fsnotify events on the database and WAL files.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"shopops/internal/docstore"
	"shopops/internal/logging"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"
)

// Store is a SQLite backed document store.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time

	mu      sync.Mutex
	streams map[*stream]struct{}
	closed  bool
	done    chan struct{}

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// Options tunes the store.
type Options struct {
	// WatchExternal enables fsnotify so writes from other processes wake streams.
	WatchExternal bool
}

// Open initializes the SQLite database at the given path.
func Open(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "sqlitestore.Open")
	defer timer.Stop()

	logging.Store("Opening document store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{
		db:      db,
		dbPath:  path,
		now:     time.Now,
		streams: make(map[*stream]struct{}),
		done:    make(chan struct{}),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	if opts.WatchExternal {
		if err := s.startWatcher(); err != nil {
			db.Close()
			return nil, err
		}
	}

	logging.Store("Document store ready (external watch=%v)", opts.WatchExternal)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		rev INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_rev ON documents(collection, rev);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// startWatcher watches the database directory for writes by other processes.
func (s *Store) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.dbPath)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.dbPath), err)
	}
	s.watcher = w

	s.wg.Add(1)
	go s.runWatcher()
	return nil
}

func (s *Store) runWatcher() {
	defer s.wg.Done()
	wal := s.dbPath + "-wal"
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.dbPath && event.Name != wal {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.broadcast()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.StoreError("fsnotify error on %s: %v", s.dbPath, err)
			s.fail(fmt.Errorf("change notifications lost: %w", err))
		}
	}
}

// broadcast wakes every open stream.
func (s *Store) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for st := range s.streams {
		select {
		case st.wake <- struct{}{}:
		default:
		}
	}
}

// fail terminates every open stream with err.
func (s *Store) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for st := range s.streams {
		select {
		case st.errs <- err:
		default:
		}
	}
}

// Close stops the watcher, ends open streams and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// =============================================================================
// READS
// =============================================================================

type row struct {
	doc docstore.Document
	rev int64
}

func (s *Store) scan(ctx context.Context, collection string, sinceRev int64) ([]row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, rev FROM documents WHERE collection = ? AND rev > ? ORDER BY rev`,
		collection, sinceRev)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var id, raw string
		var rev int64
		if err := rows.Scan(&id, &raw, &rev); err != nil {
			return nil, err
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", collection, id, err)
		}
		out = append(out, row{doc: docstore.Document{ID: id, Data: data}, rev: rev})
	}
	return out, rows.Err()
}

func decodeData(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if s.isClosed() {
		return docstore.Document{}, docstore.ErrClosed
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Data: data}, nil
}

// List returns the documents matching the query, ordered by id.
func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if s.isClosed() {
		return nil, docstore.ErrClosed
	}
	if q.DocID != "" {
		doc, err := s.Get(ctx, q.Collection, q.DocID)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []docstore.Document{doc}, nil
	}
	rows, err := s.scan(ctx, q.Collection, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].doc.ID < rows[j].doc.ID })

	var out []docstore.Document
	for _, r := range rows {
		if !q.Matches(r.doc) {
			continue
		}
		out = append(out, r.doc)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// WRITES
// =============================================================================

// Set creates or replaces a document.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return putTx(ctx, tx, collection, id, data)
	})
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update merges top-level fields into an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.Batch(ctx, []docstore.Write{{Collection: collection, ID: id, Fields: fields}})
}

// Batch applies several field updates in one transaction.
func (s *Store) Batch(ctx context.Context, writes []docstore.Write) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, w := range writes {
			data, err := getTx(ctx, tx, w.Collection, w.ID)
			if err != nil {
				return err
			}
			for k, v := range w.Fields {
				data[k] = v
			}
			if err := putTx(ctx, tx, w.Collection, w.ID, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Claim takes a lease on a pending item.
func (s *Store) Claim(ctx context.Context, collection, id, owner string, lease time.Duration) (bool, error) {
	claimed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		data, err := getTx(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		now := s.now()
		if !docstore.ClaimAllowed(data, owner, now) {
			return nil
		}
		data["claimedBy"] = owner
		data["claimExpiresAt"] = now.Add(lease)
		claimed = true
		return putTx(ctx, tx, collection, id, data)
	})
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", collection, id, err)
	}
	return claimed, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.isClosed() {
		return docstore.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.broadcast()
	return nil
}

func getTx(ctx context.Context, tx *sql.Tx, collection, id string) (map[string]any, error) {
	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeData(raw)
}

func putTx(ctx context.Context, tx *sql.Tx, collection, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, rev)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(rev), 0) + 1 FROM documents))
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, rev = excluded.rev`,
		collection, id, string(raw))
	return err
}
