// Package firestorestore implements docstore.Store on Cloud Firestore, the
// shared store the administrative UI writes pending items into. Change streams
// are Firestore snapshot listeners.
package firestorestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"shopops/internal/docstore"
	"shopops/internal/logging"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store is a Firestore backed document store.
type Store struct {
	client *firestore.Client
	now    func() time.Time
}

// Open connects to the Firestore project. credentialsFile is the service
// account descriptor; when empty, application default credentials are used.
func Open(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	logging.Store("Connected to firestore project %s", projectID)
	return &Store{client: client, now: time.Now}, nil
}

// query builds the server-side part of q. Filters splitQuery leaves to the
// client are the caller's to apply.
func (s *Store) query(q docstore.Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Where {
		fq = fq.Where(f.Field, string(f.Op), f.Value)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func notFound(err error, collection, id string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	return err
}

func toUpdates(fields map[string]any) []firestore.Update {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	updates := make([]firestore.Update, 0, len(keys))
	for _, k := range keys {
		updates = append(updates, firestore.Update{Path: k, Value: fields[k]})
	}
	return updates
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return docstore.Document{}, notFound(err, collection, id)
	}
	return docstore.Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

// List returns the documents matching the query.
func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
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

	server, client := splitQuery(q)
	iter := s.query(server).Documents(ctx)
	defer iter.Stop()

	var out []docstore.Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", q, err)
		}
		doc := docstore.Document{ID: snap.Ref.ID, Data: snap.Data()}
		if !client.Matches(doc) {
			continue
		}
		out = append(out, doc)
		if client.Limit > 0 && len(out) == client.Limit {
			break
		}
	}
	return out, nil
}

// Set creates or replaces a document.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, data); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update merges top-level fields into an existing document.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if _, err := s.client.Collection(collection).Doc(id).Update(ctx, toUpdates(fields)); err != nil {
		return notFound(err, collection, id)
	}
	return nil
}

// Batch applies several field updates in one transaction.
func (s *Store) Batch(ctx context.Context, writes []docstore.Write) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, w := range writes {
			ref := s.client.Collection(w.Collection).Doc(w.ID)
			if err := tx.Update(ref, toUpdates(w.Fields)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Claim takes a lease on a pending item inside a transaction.
func (s *Store) Claim(ctx context.Context, collection, id, owner string, lease time.Duration) (bool, error) {
	claimed := false
	ref := s.client.Collection(collection).Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		snap, err := tx.Get(ref)
		if err != nil {
			return notFound(err, collection, id)
		}
		now := s.now()
		if !docstore.ClaimAllowed(snap.Data(), owner, now) {
			return nil
		}
		claimed = true
		return tx.Update(ref, []firestore.Update{
			{Path: "claimedBy", Value: owner},
			{Path: "claimExpiresAt", Value: now.Add(lease)},
		})
	})
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", collection, id, err)
	}
	return claimed, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
