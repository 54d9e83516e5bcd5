package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/repository"
	"github.com/septivank/usage-rollup-worker/internal/validator"
)

var testCollections = repository.Collections{
	Devices:      "device",
	Users:        "users",
	Rates:        "meralcoConversion",
	RateDocument: "currentConversion",
}

func TestMemoryStore_FetchDevicesSkipsOwnerless(t *testing.T) {
	store := repository.NewMemoryStore(testCollections, zap.NewNop())
	store.Put("device", "d1", map[string]interface{}{
		db.FieldOwner:     "users/u1",
		db.FieldPesoState: 4.0,
		db.FieldDays:      []interface{}{1.0, 2.0},
		db.FieldDayName:   []interface{}{"1", "2"},
	})
	store.Put("device", "d2", map[string]interface{}{
		db.FieldPesoState: 9.0,
	})

	devices, err := store.FetchDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "d1", devices[0].ID)
	require.Equal(t, "u1", devices[0].OwnerID)
	require.Equal(t, 4.0, devices[0].PesoState)
	require.Equal(t, []float64{1, 2}, devices[0].Days)
	require.Nil(t, devices[0].MonthlyResetDay)
}

func TestMemoryStore_InvalidResetDayWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := repository.NewMemoryStore(testCollections, zap.New(core))
	store.Put("device", "d1", map[string]interface{}{
		db.FieldOwner:        "u1",
		db.FieldMonthlyReset: "someday",
	})

	devices, err := store.FetchDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Nil(t, devices[0].MonthlyResetDay)
	require.Equal(t, 1, logs.Len())
}

func TestMemoryStore_InvalidHistoryKeepsDevice(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := repository.NewMemoryStore(testCollections, zap.New(core))
	store.Put("device", "d1", map[string]interface{}{
		db.FieldOwner:     "u1",
		db.FieldPesoState: 12.5,
		db.FieldDays:      "corrupt",
	})

	devices, err := store.FetchDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "u1", devices[0].OwnerID)
	require.Equal(t, 12.5, devices[0].PesoState)
	require.Error(t, devices[0].SeriesErr)
	require.Empty(t, devices[0].Days)
	require.Equal(t, 1, logs.FilterMessage("device has invalid history").Len())
}

func TestMemoryStore_InvalidHistoryFlagsUser(t *testing.T) {
	store := repository.NewMemoryStore(testCollections, zap.NewNop())
	store.Put("users", "u1", map[string]interface{}{
		db.FieldDays:    "corrupt",
		db.FieldDayName: []interface{}{"4", "5"},
	})

	users, err := store.FetchUsers(context.Background())
	require.NoError(t, err)
	require.Contains(t, users, "u1")
	require.Error(t, users["u1"].SeriesErr)
}

func TestMemoryStore_FetchUsersZeroesAccumulators(t *testing.T) {
	store := repository.NewMemoryStore(testCollections, zap.NewNop())
	store.Put("users", "u1", map[string]interface{}{
		db.FieldDays: []interface{}{3.0},
		"daysSum":    99.0,
	})

	users, err := store.FetchUsers(context.Background())
	require.NoError(t, err)
	require.Contains(t, users, "u1")
	require.Zero(t, users["u1"].DaysSum)
	require.Zero(t, users["u1"].MonthSum)
	require.Equal(t, []float64{3}, users["u1"].Days)
}

func TestMemoryStore_UpdateMergesAndAppends(t *testing.T) {
	store := repository.NewMemoryStore(testCollections, zap.NewNop())
	store.Put("device", "d1", map[string]interface{}{
		db.FieldOwner:   "u1",
		db.FieldDays:    []interface{}{0.0},
		db.FieldDayName: []interface{}{"4"},
		"label":         "kitchen",
	})

	var patch repository.Patch
	patch.AppendField(db.FieldDays, 0.0)
	patch.AppendField(db.FieldDayName, "5")
	require.NoError(t, store.UpdateDevice(context.Background(), "d1", patch))

	doc, ok := store.Get("device", "d1")
	require.True(t, ok)
	// duplicate values are appended, not deduplicated
	require.Equal(t, []interface{}{0.0, 0.0}, doc[db.FieldDays])
	require.Equal(t, []interface{}{"4", "5"}, doc[db.FieldDayName])
	require.Equal(t, "kitchen", doc["label"])
}

func TestMemoryStore_AppendToNonArrayIsRejected(t *testing.T) {
	store := repository.NewMemoryStore(testCollections, zap.NewNop())
	store.Put("users", "u1", map[string]interface{}{
		db.FieldDays:    "corrupt",
		db.FieldDayName: []interface{}{"4", "5"},
	})

	var patch repository.Patch
	patch.AppendField(db.FieldDays, 0.0)
	patch.AppendField(db.FieldDayName, "6")
	err := store.UpdateUser(context.Background(), "u1", patch)

	var writeErr *repository.WriteError
	require.ErrorAs(t, err, &writeErr)
	var parseErr *validator.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, db.FieldDays, parseErr.Field)

	doc, _ := store.Get("users", "u1")
	require.Equal(t, "corrupt", doc[db.FieldDays])
	require.Equal(t, []interface{}{"4", "5"}, doc[db.FieldDayName])
}

func TestMemoryStore_UpdateMissingDocument(t *testing.T) {
	store := repository.NewMemoryStore(testCollections, zap.NewNop())

	var patch repository.Patch
	patch.SetField(db.FieldDays, []interface{}{})
	err := store.UpdateUser(context.Background(), "ghost", patch)

	var writeErr *repository.WriteError
	require.ErrorAs(t, err, &writeErr)
	require.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestMemoryStore_MergeUserCreates(t *testing.T) {
	store := repository.NewMemoryStore(testCollections, zap.NewNop())
	require.NoError(t, store.MergeUser(context.Background(), "u9", map[string]interface{}{db.FieldPesoSum: 1.5}))

	doc, ok := store.Get("users", "u9")
	require.True(t, ok)
	require.Equal(t, 1.5, doc[db.FieldPesoSum])
}

func TestMemoryStore_Rate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(testCollections, zap.NewNop())

	_, ok, err := store.GetRate(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SetRate(ctx, 11.4139))
	rate, ok, err := store.GetRate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 11.4139, rate)
}

func TestMemoryStore_ReadHook(t *testing.T) {
	store := repository.NewMemoryStore(testCollections, zap.NewNop())
	store.ReadHook = func(string) error { return errors.New("unavailable") }

	_, err := store.FetchUsers(context.Background())
	var readErr *repository.ReadError
	require.ErrorAs(t, err, &readErr)
	require.Equal(t, "users", readErr.Collection)
}

func TestPatch_Fields(t *testing.T) {
	var patch repository.Patch
	require.True(t, patch.IsEmpty())

	patch.AppendField(db.FieldMonth, 6.0)
	patch.SetField(db.FieldDays, []interface{}{})
	patch.AppendField(db.FieldDays, 1.0)

	require.False(t, patch.IsEmpty())
	require.Equal(t, []string{db.FieldDays, db.FieldMonth}, patch.Fields())
}
