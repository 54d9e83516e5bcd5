package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/validator"
)

// ErrNotFound is returned when a write targets a document that does not exist
var ErrNotFound = errors.New("document not found")

// ReadError reports a failed snapshot read of a collection
type ReadError struct {
	Collection string
	Err        error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read collection %s: %v", e.Collection, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError reports a rejected write to a single document
type WriteError struct {
	Collection string
	ID         string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Patch is a merge write against one document. Set overwrites the named
// fields, Append extends the named array fields in order. Fields not named
// are left untouched.
type Patch struct {
	Set    map[string]interface{}
	Append map[string][]interface{}
}

// SetField overwrites field with value
func (p *Patch) SetField(field string, value interface{}) {
	if p.Set == nil {
		p.Set = make(map[string]interface{})
	}
	p.Set[field] = value
}

// AppendField appends values to the array field
func (p *Patch) AppendField(field string, values ...interface{}) {
	if p.Append == nil {
		p.Append = make(map[string][]interface{})
	}
	p.Append[field] = append(p.Append[field], values...)
}

// IsEmpty reports whether the patch touches no field
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Append) == 0
}

// Fields returns the touched field names in sorted order
func (p Patch) Fields() []string {
	fields := make([]string, 0, len(p.Set)+len(p.Append))
	for f := range p.Set {
		fields = append(fields, f)
	}
	for f := range p.Append {
		if _, ok := p.Set[f]; !ok {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields
}

// appendTarget returns the stored array an append extends. A field that is
// present but not an array is rejected instead of being replaced, which would
// desynchronize it from its parallel label array.
func appendTarget(field string, current map[string]interface{}) ([]interface{}, error) {
	raw, ok := current[field]
	if !ok || raw == nil {
		return nil, nil
	}
	existing, ok := raw.([]interface{})
	if !ok {
		return nil, &validator.ParseError{Field: field, Value: raw, Err: fmt.Errorf("expected array, got %T", raw)}
	}
	return existing, nil
}

// UsageStore is the device and user data access used by the rollup jobs
type UsageStore interface {
	// FetchDevices returns every device that has an owner
	FetchDevices(ctx context.Context) ([]db.Device, error)
	// FetchUsers returns every user keyed by id, with zeroed accumulators
	FetchUsers(ctx context.Context) (map[string]*db.User, error)
	UpdateDevice(ctx context.Context, id string, patch Patch) error
	UpdateUser(ctx context.Context, id string, patch Patch) error
	// MergeUser sets fields on a user, creating the document if needed
	MergeUser(ctx context.Context, id string, fields map[string]interface{}) error
}

// RateStore holds the current kWh to peso conversion rate
type RateStore interface {
	// GetRate returns the stored rate and whether one is stored
	GetRate(ctx context.Context) (float64, bool, error)
	SetRate(ctx context.Context, rate float64) error
}
