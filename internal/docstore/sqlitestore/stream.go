package sqlitestore

import (
	"context"
	"sync"

	"shopops/internal/docstore"
	"shopops/internal/logging"
)

// stream tracks which documents currently match its query and turns revision
// bumps into added/modified/removed changes.
type stream struct {
	store   *Store
	query   docstore.Query
	known   map[string]bool
	lastRev int64
	primed  bool

	wake     chan struct{}
	errs     chan error
	stopped  chan struct{}
	stopOnce sync.Once
}

// Watch opens a change stream for the query.
func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	st := &stream{
		store:   s,
		query:   q,
		known:   make(map[string]bool),
		wake:    make(chan struct{}, 1),
		errs:    make(chan error, 1),
		stopped: make(chan struct{}),
	}
	s.streams[st] = struct{}{}
	logging.StoreDebug("Opened stream on %s", q)
	return st, nil
}

// Stop detaches the stream from the store.
func (st *stream) Stop() {
	st.stopOnce.Do(func() {
		close(st.stopped)
		st.store.mu.Lock()
		delete(st.store.streams, st)
		st.store.mu.Unlock()
	})
}

// Next returns the initial snapshot on the first call, then blocks until a
// write produces at least one change for this query.
func (st *stream) Next(ctx context.Context) ([]docstore.Change, error) {
	if !st.primed {
		st.primed = true
		return st.collect(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-st.stopped:
			return nil, docstore.ErrStreamStopped
		case <-st.store.done:
			return nil, docstore.ErrClosed
		case err := <-st.errs:
			return nil, err
		case <-st.wake:
			changes, err := st.collect(ctx)
			if err != nil {
				return nil, err
			}
			if len(changes) > 0 {
				return changes, nil
			}
		}
	}
}

func (st *stream) collect(ctx context.Context) ([]docstore.Change, error) {
	rows, err := st.store.scan(ctx, st.query.Collection, st.lastRev)
	if err != nil {
		return nil, err
	}
	var changes []docstore.Change
	for _, r := range rows {
		if r.rev > st.lastRev {
			st.lastRev = r.rev
		}
		matches := st.query.Matches(r.doc)
		switch {
		case matches && !st.known[r.doc.ID]:
			st.known[r.doc.ID] = true
			changes = append(changes, docstore.Change{Kind: docstore.ChangeAdded, Doc: r.doc})
		case matches:
			changes = append(changes, docstore.Change{Kind: docstore.ChangeModified, Doc: r.doc})
		case st.known[r.doc.ID]:
			delete(st.known, r.doc.ID)
			changes = append(changes, docstore.Change{Kind: docstore.ChangeRemoved, Doc: r.doc})
		}
	}
	return changes, nil
}
