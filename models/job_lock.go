package models

import "time"

// JobLock marks a scheduled job firing as taken by one instance.
type JobLock struct {
	Key      string    `gorm:"primaryKey;type:varchar(128)"`
	Owner    string    `gorm:"not null"`
	LockedAt time.Time `gorm:"not null;index"`
}
