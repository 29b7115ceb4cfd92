package model

import "time"

// PushSubscription holds the information for a browser push subscription,
// bound to the vehicle whose updates it wants to hear about.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	VIN       string    `gorm:"index;size:32;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
