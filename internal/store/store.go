// Package store wraps all database access: restore snapshots written at
// shutdown and consumed at the next startup, and browser push subscriptions.
package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smartcar-bridge/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	// SaveSnapshots upserts the given snapshots in one transaction.
	SaveSnapshots(ctx context.Context, snaps []model.RestoreSnapshot) error

	// TakeSnapshots returns every snapshot stored for the VIN and deletes
	// them, so a stale last-known value is injected at most once.
	TakeSnapshots(ctx context.Context, vin string) ([]model.RestoreSnapshot, error)

	UpsertSubscription(ctx context.Context, sub model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForVIN(ctx context.Context, vin string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) SaveSnapshots(ctx context.Context, snaps []model.RestoreSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "vin"}, {Name: "entity_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"raw_value", "unit_system", "data_age", "fetched_at", "updated_at",
		}),
	}).Create(&snaps).Error
	if err != nil {
		return fmt.Errorf("failed to save restore snapshots: %w", err)
	}
	return nil
}

func (s *gormStore) TakeSnapshots(ctx context.Context, vin string) ([]model.RestoreSnapshot, error) {
	var snaps []model.RestoreSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("vin = ?", vin).Find(&snaps).Error; err != nil {
			return err
		}
		if len(snaps) == 0 {
			return nil
		}
		return tx.Where("vin = ?", vin).Delete(&model.RestoreSnapshot{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take restore snapshots for %s: %w", vin, err)
	}
	return snaps, nil
}

func (s *gormStore) UpsertSubscription(ctx context.Context, sub model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "vin"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).
		Delete(&model.PushSubscription{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *gormStore) SubscriptionsForVIN(ctx context.Context, vin string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("vin = ?", vin).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for %s: %w", vin, err)
	}
	return subs, nil
}
