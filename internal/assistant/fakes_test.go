package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shopops/internal/docstore"
	"shopops/internal/llm"
)

// memStore is an in-memory Store keyed by collection then id.
type memStore struct {
	mu      sync.Mutex
	docs    map[string]map[string]map[string]any
	failGet map[string]error
	failUpd error
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]map[string]map[string]any{}, failGet: map[string]error{}}
}

func (m *memStore) put(collection, id string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = map[string]map[string]any{}
	}
	m.docs[collection][id] = data
}

func (m *memStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGet[collection]; err != nil {
		return docstore.Document{}, err
	}
	data, ok := m.docs[collection][id]
	if !ok {
		return docstore.Document{}, fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	return docstore.Document{ID: id, Data: data}, nil
}

func (m *memStore) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []docstore.Document
	for id, data := range m.docs[q.Collection] {
		doc := docstore.Document{ID: id, Data: data}
		if !q.Matches(doc) {
			continue
		}
		out = append(out, doc)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpd != nil {
		return m.failUpd
	}
	data, ok := m.docs[collection][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	for k, v := range fields {
		data[k] = v
	}
	return nil
}

// scriptedModel returns its responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	panicMsg  string
	requests  []llm.Request
}

func (s *scriptedModel) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, errors.New("no scripted response")
	}
	return s.responses[i], nil
}

func (s *scriptedModel) calls() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}
