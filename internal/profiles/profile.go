// Package profiles maps authenticated users to the cloud documents they own.
package profiles

import "time"

// Profile binds a user to the key of its document and records access state.
type Profile struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DocumentKey string    `gorm:"column:document_key;size:64;not null;uniqueIndex"`
	Disabled    bool      `gorm:"column:disabled;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}
