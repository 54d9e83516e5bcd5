package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/validator"
)

// Collections names the collections and documents the repository works on
type Collections struct {
	Devices      string
	Users        string
	Rates        string
	RateDocument string
}

// FirestoreRepository handles Firestore operations
type FirestoreRepository struct {
	client      *firestore.Client
	collections Collections
	logger      *zap.Logger
}

// NewFirestoreRepository creates a new repository
func NewFirestoreRepository(client *firestore.Client, collections Collections, logger *zap.Logger) *FirestoreRepository {
	return &FirestoreRepository{
		client:      client,
		collections: collections,
		logger:      logger,
	}
}

// FetchDevices reads a snapshot of the device collection
func (r *FirestoreRepository) FetchDevices(ctx context.Context) ([]db.Device, error) {
	snaps, err := r.client.Collection(r.collections.Devices).Documents(ctx).GetAll()
	if err != nil {
		return nil, &ReadError{Collection: r.collections.Devices, Err: err}
	}

	devices := make([]db.Device, 0, len(snaps))
	for _, snap := range snaps {
		if device, ok := decodeDevice(r.logger, snap.Ref.ID, snap.Data()); ok {
			devices = append(devices, device)
		}
	}
	return devices, nil
}

// FetchUsers reads a snapshot of the user collection
func (r *FirestoreRepository) FetchUsers(ctx context.Context) (map[string]*db.User, error) {
	snaps, err := r.client.Collection(r.collections.Users).Documents(ctx).GetAll()
	if err != nil {
		return nil, &ReadError{Collection: r.collections.Users, Err: err}
	}

	users := make(map[string]*db.User, len(snaps))
	for _, snap := range snaps {
		users[snap.Ref.ID] = decodeUser(r.logger, snap.Ref.ID, snap.Data())
	}
	return users, nil
}

// UpdateDevice applies a patch to a device document
func (r *FirestoreRepository) UpdateDevice(ctx context.Context, id string, patch Patch) error {
	return r.update(ctx, r.collections.Devices, id, patch)
}

// UpdateUser applies a patch to a user document
func (r *FirestoreRepository) UpdateUser(ctx context.Context, id string, patch Patch) error {
	return r.update(ctx, r.collections.Users, id, patch)
}

// update applies the patch in a transaction so that appends extend the
// array as stored at write time. Missing documents are not created.
func (r *FirestoreRepository) update(ctx context.Context, collection, id string, patch Patch) error {
	if patch.IsEmpty() {
		return nil
	}

	ref := r.client.Collection(collection).Doc(id)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current map[string]interface{}
		if len(patch.Append) > 0 {
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			current = snap.Data()
		}

		updates := make([]firestore.Update, 0, len(patch.Set)+len(patch.Append))
		for field, value := range patch.Set {
			updates = append(updates, firestore.Update{Path: field, Value: value})
		}
		for field, values := range patch.Append {
			if _, overwritten := patch.Set[field]; overwritten {
				continue
			}
			existing, err := appendTarget(field, current)
			if err != nil {
				return err
			}
			merged := make([]interface{}, 0, len(existing)+len(values))
			merged = append(merged, existing...)
			merged = append(merged, values...)
			updates = append(updates, firestore.Update{Path: field, Value: merged})
		}

		return tx.Update(ref, updates)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			err = fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return &WriteError{Collection: collection, ID: id, Err: err}
	}

	r.logger.Debug("updated document",
		zap.String("collection", collection),
		zap.String("id", id),
		zap.Strings("fields", patch.Fields()),
	)
	return nil
}

// MergeUser sets fields on a user document with merge semantics
func (r *FirestoreRepository) MergeUser(ctx context.Context, id string, fields map[string]interface{}) error {
	_, err := r.client.Collection(r.collections.Users).Doc(id).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return &WriteError{Collection: r.collections.Users, ID: id, Err: err}
	}
	return nil
}

// GetRate reads the stored conversion rate
func (r *FirestoreRepository) GetRate(ctx context.Context) (float64, bool, error) {
	snap, err := r.client.Collection(r.collections.Rates).Doc(r.collections.RateDocument).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, false, nil
		}
		return 0, false, &ReadError{Collection: r.collections.Rates, Err: err}
	}

	raw, ok := snap.Data()[db.FieldKWhToPeso]
	if !ok || raw == nil {
		return 0, false, nil
	}
	rate, err := validator.ParseReading(db.FieldKWhToPeso, raw)
	if err != nil {
		return 0, false, err
	}
	return rate, true, nil
}

// SetRate replaces the rate document with the new rate
func (r *FirestoreRepository) SetRate(ctx context.Context, rate float64) error {
	ref := r.client.Collection(r.collections.Rates).Doc(r.collections.RateDocument)
	if _, err := ref.Set(ctx, map[string]interface{}{db.FieldKWhToPeso: rate}); err != nil {
		return &WriteError{Collection: r.collections.Rates, ID: r.collections.RateDocument, Err: err}
	}
	return nil
}
