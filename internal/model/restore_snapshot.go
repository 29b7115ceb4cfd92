package model

import "time"

// RestoreSnapshot persists one entity's last-known raw value across restarts.
// The raw value is stored JSON-encoded so arbitrary shapes (grids, nested
// objects) survive the round trip.
type RestoreSnapshot struct {
	VIN       string `gorm:"primaryKey;size:32"`
	EntityKey string `gorm:"primaryKey;size:64"`

	RawValue   string `gorm:"not null"`
	UnitSystem string `gorm:"size:16"`
	DataAge    *time.Time
	FetchedAt  *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
