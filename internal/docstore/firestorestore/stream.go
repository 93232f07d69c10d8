package firestorestore

import (
	"context"
	"fmt"
	"sync"

	"shopops/internal/docstore"

	"cloud.google.com/go/firestore"
)

// Watch opens a snapshot listener for the query.
func (s *Store) Watch(ctx context.Context, q docstore.Query) (docstore.Stream, error) {
	if q.DocID != "" {
		it := s.client.Collection(q.Collection).Doc(q.DocID).Snapshots(ctx)
		return &docStream{it: it}, nil
	}
	server, client := splitQuery(q)
	return &queryStream{it: s.query(server).Snapshots(ctx), view: newClientView(client)}, nil
}

// queryStream adapts a QuerySnapshotIterator.
type queryStream struct {
	it   *firestore.QuerySnapshotIterator
	view *clientView
	once sync.Once
}

func (st *queryStream) Next(ctx context.Context) ([]docstore.Change, error) {
	snap, err := st.it.Next()
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	changes := make([]docstore.Change, 0, len(snap.Changes))
	for _, c := range snap.Changes {
		changes = append(changes, docstore.Change{
			Kind: changeKind(c.Kind),
			Doc:  docstore.Document{ID: c.Doc.Ref.ID, Data: c.Doc.Data()},
		})
	}
	return st.view.apply(changes), nil
}

func (st *queryStream) Stop() {
	st.once.Do(st.it.Stop)
}

func changeKind(k firestore.DocumentChangeKind) docstore.ChangeKind {
	switch k {
	case firestore.DocumentModified:
		return docstore.ChangeModified
	case firestore.DocumentRemoved:
		return docstore.ChangeRemoved
	default:
		return docstore.ChangeAdded
	}
}

// docStream adapts a DocumentSnapshotIterator: the first existing snapshot is
// an addition, later ones are modifications.
type docStream struct {
	it   *firestore.DocumentSnapshotIterator
	seen bool
	once sync.Once
}

func (st *docStream) Next(ctx context.Context) ([]docstore.Change, error) {
	snap, err := st.it.Next()
	if err != nil {
		return nil, fmt.Errorf("document snapshot: %w", err)
	}
	if !snap.Exists() {
		if !st.seen {
			return nil, nil
		}
		st.seen = false
		return []docstore.Change{{Kind: docstore.ChangeRemoved, Doc: docstore.Document{ID: snap.Ref.ID}}}, nil
	}
	kind := docstore.ChangeModified
	if !st.seen {
		kind = docstore.ChangeAdded
		st.seen = true
	}
	return []docstore.Change{{Kind: kind, Doc: docstore.Document{ID: snap.Ref.ID, Data: snap.Data()}}}, nil
}

func (st *docStream) Stop() {
	st.once.Do(st.it.Stop)
}
