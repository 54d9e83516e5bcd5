package repository

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/validator"
)

// MemoryStore is an in-process document store with the same decoding and
// merge semantics as FirestoreRepository. It backs tests and local dry runs.
type MemoryStore struct {
	mu          sync.Mutex
	docs        map[string]map[string]map[string]interface{}
	collections Collections
	logger      *zap.Logger

	// ReadHook, when set, runs before each collection read; an error fails the read.
	ReadHook func(collection string) error
	// WriteHook, when set, runs before each document write; an error rejects the write.
	WriteHook func(collection, id string) error
}

// NewMemoryStore creates an empty store
func NewMemoryStore(collections Collections, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]map[string]map[string]interface{}),
		collections: collections,
		logger:      logger,
	}
}

// Put stores a document, replacing any existing one
func (m *MemoryStore) Put(collection, id string, data map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]map[string]interface{})
	}
	m.docs[collection][id] = copyDoc(data)
}

// Get returns a copy of a stored document
func (m *MemoryStore) Get(collection, id string) (map[string]interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, false
	}
	return copyDoc(doc), true
}

func (m *MemoryStore) snapshot(collection string) ([]string, map[string]map[string]interface{}, error) {
	if m.ReadHook != nil {
		if err := m.ReadHook(collection); err != nil {
			return nil, nil, &ReadError{Collection: collection, Err: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs[collection]))
	docs := make(map[string]map[string]interface{}, len(m.docs[collection]))
	for id, doc := range m.docs[collection] {
		ids = append(ids, id)
		docs[id] = copyDoc(doc)
	}
	sort.Strings(ids)
	return ids, docs, nil
}

// FetchDevices returns every device that has an owner
func (m *MemoryStore) FetchDevices(ctx context.Context) ([]db.Device, error) {
	ids, docs, err := m.snapshot(m.collections.Devices)
	if err != nil {
		return nil, err
	}
	devices := make([]db.Device, 0, len(ids))
	for _, id := range ids {
		if device, ok := decodeDevice(m.logger, id, docs[id]); ok {
			devices = append(devices, device)
		}
	}
	return devices, nil
}

// FetchUsers returns every user keyed by id
func (m *MemoryStore) FetchUsers(ctx context.Context) (map[string]*db.User, error) {
	ids, docs, err := m.snapshot(m.collections.Users)
	if err != nil {
		return nil, err
	}
	users := make(map[string]*db.User, len(ids))
	for _, id := range ids {
		users[id] = decodeUser(m.logger, id, docs[id])
	}
	return users, nil
}

// UpdateDevice applies a patch to a device document
func (m *MemoryStore) UpdateDevice(ctx context.Context, id string, patch Patch) error {
	return m.update(m.collections.Devices, id, patch)
}

// UpdateUser applies a patch to a user document
func (m *MemoryStore) UpdateUser(ctx context.Context, id string, patch Patch) error {
	return m.update(m.collections.Users, id, patch)
}

func (m *MemoryStore) update(collection, id string, patch Patch) error {
	if m.WriteHook != nil {
		if err := m.WriteHook(collection, id); err != nil {
			return &WriteError{Collection: collection, ID: id, Err: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return &WriteError{Collection: collection, ID: id, Err: ErrNotFound}
	}

	appended := make(map[string][]interface{}, len(patch.Append))
	for field, values := range patch.Append {
		if _, overwritten := patch.Set[field]; overwritten {
			continue
		}
		existing, err := appendTarget(field, doc)
		if err != nil {
			return &WriteError{Collection: collection, ID: id, Err: err}
		}
		merged := make([]interface{}, 0, len(existing)+len(values))
		merged = append(merged, existing...)
		merged = append(merged, values...)
		appended[field] = merged
	}

	for field, value := range patch.Set {
		doc[field] = copyValue(value)
	}
	for field, merged := range appended {
		doc[field] = merged
	}
	return nil
}

// MergeUser sets fields on a user, creating the document if needed
func (m *MemoryStore) MergeUser(ctx context.Context, id string, fields map[string]interface{}) error {
	if m.WriteHook != nil {
		if err := m.WriteHook(m.collections.Users, id); err != nil {
			return &WriteError{Collection: m.collections.Users, ID: id, Err: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[m.collections.Users] == nil {
		m.docs[m.collections.Users] = make(map[string]map[string]interface{})
	}
	doc, ok := m.docs[m.collections.Users][id]
	if !ok {
		doc = make(map[string]interface{})
		m.docs[m.collections.Users][id] = doc
	}
	for field, value := range fields {
		doc[field] = copyValue(value)
	}
	return nil
}

// GetRate reads the stored conversion rate
func (m *MemoryStore) GetRate(ctx context.Context) (float64, bool, error) {
	if m.ReadHook != nil {
		if err := m.ReadHook(m.collections.Rates); err != nil {
			return 0, false, &ReadError{Collection: m.collections.Rates, Err: err}
		}
	}
	doc, ok := m.Get(m.collections.Rates, m.collections.RateDocument)
	if !ok || doc[db.FieldKWhToPeso] == nil {
		return 0, false, nil
	}
	rate, err := validator.ParseReading(db.FieldKWhToPeso, doc[db.FieldKWhToPeso])
	if err != nil {
		return 0, false, err
	}
	return rate, true, nil
}

// SetRate replaces the rate document with the new rate
func (m *MemoryStore) SetRate(ctx context.Context, rate float64) error {
	if m.WriteHook != nil {
		if err := m.WriteHook(m.collections.Rates, m.collections.RateDocument); err != nil {
			return &WriteError{Collection: m.collections.Rates, ID: m.collections.RateDocument, Err: err}
		}
	}
	m.Put(m.collections.Rates, m.collections.RateDocument, map[string]interface{}{db.FieldKWhToPeso: rate})
	return nil
}

func copyDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	if items, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(items))
		copy(out, items)
		return out
	}
	return v
}
