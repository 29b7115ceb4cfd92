package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"smartcar-bridge/internal/entity"
	"smartcar-bridge/internal/model"
	"smartcar-bridge/internal/registry"
)

// newTestDB opens an in-memory database with the schema migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.RestoreSnapshot{}, &model.PushSubscription{}))
	return db
}

func TestTakeSnapshotsConsumesOnce(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	dataAge := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSnapshots(ctx, []model.RestoreSnapshot{
		{VIN: "VIN1", EntityKey: "odometer", RawValue: "100", UnitSystem: "imperial", DataAge: &dataAge},
		{VIN: "VIN1", EntityKey: "battery_level", RawValue: "0.5", UnitSystem: "metric"},
		{VIN: "VIN2", EntityKey: "odometer", RawValue: "42"},
	}))

	snaps, err := s.TakeSnapshots(ctx, "VIN1")
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	// Consumed: a second take finds nothing.
	snaps, err = s.TakeSnapshots(ctx, "VIN1")
	require.NoError(t, err)
	assert.Empty(t, snaps)

	// Other vehicles are untouched.
	snaps, err = s.TakeSnapshots(ctx, "VIN2")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestSaveSnapshotsUpserts(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshots(ctx, []model.RestoreSnapshot{
		{VIN: "VIN1", EntityKey: "odometer", RawValue: "100", UnitSystem: "imperial"},
	}))
	require.NoError(t, s.SaveSnapshots(ctx, []model.RestoreSnapshot{
		{VIN: "VIN1", EntityKey: "odometer", RawValue: "161", UnitSystem: "metric"},
	}))

	snaps, err := s.TakeSnapshots(ctx, "VIN1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "161", snaps[0].RawValue)
	assert.Equal(t, "metric", snaps[0].UnitSystem)
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := NewGormStore(newTestDB(t))
	ctx := context.Background()

	sub := model.PushSubscription{
		Endpoint: "https://push.example/ep1",
		P256DH:   "key",
		Auth:     "auth",
		VIN:      "VIN1",
	}
	require.NoError(t, s.UpsertSubscription(ctx, sub))

	// Re-subscribing the same endpoint rebinds it rather than duplicating.
	sub.VIN = "VIN2"
	require.NoError(t, s.UpsertSubscription(ctx, sub))

	subs, err := s.SubscriptionsForVIN(ctx, "VIN1")
	require.NoError(t, err)
	assert.Empty(t, subs)

	subs, err = s.SubscriptionsForVIN(ctx, "VIN2")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/ep1", subs[0].Endpoint)

	require.NoError(t, s.DeleteSubscription(ctx, sub.Endpoint))
	subs, err = s.SubscriptionsForVIN(ctx, "VIN2")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSnapshotEncodeDecodeRoundTrip(t *testing.T) {
	fetchedAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := entity.Snapshot{
		RawValue: []any{
			map[string]any{"row": float64(0), "column": float64(0), "tirePressure": 220.5},
		},
		UnitSystem: "metric",
		FetchedAt:  &fetchedAt,
	}

	rec, ok, err := EncodeSnapshot("VIN1", registry.KeyTirePressureFrontLeft, snap)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tire_pressure_front_left", rec.EntityKey)

	decoded, err := DecodeSnapshot(rec)
	require.NoError(t, err)
	assert.Equal(t, snap.RawValue, decoded.RawValue)
	assert.Equal(t, "metric", decoded.UnitSystem)
	require.NotNil(t, decoded.FetchedAt)
	assert.True(t, fetchedAt.Equal(*decoded.FetchedAt))
}

func TestEncodeSnapshotSkipsNil(t *testing.T) {
	_, ok, err := EncodeSnapshot("VIN1", registry.KeyOdometer, entity.Snapshot{})
	require.NoError(t, err)
	assert.False(t, ok)
}

// The upsert clause must target the composite primary key on real postgres.
func TestSaveSnapshotsPostgresConflictClause(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT ("vin","entity_key") DO UPDATE`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := NewGormStore(gormDB)
	err = s.SaveSnapshots(context.Background(), []model.RestoreSnapshot{
		{VIN: "VIN1", EntityKey: "odometer", RawValue: "1"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
