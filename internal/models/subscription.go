package models

import "time"

// Subscription grants an owning group a traffic quota on a set of models.
// A model referenced by no subscription has zero quota.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string `gorm:"type:text;not null;uniqueIndex"` // Unique subscription identifier.

	ModelRefs  StringList `gorm:"type:jsonb;not null;default:'[]'"` // Referenced model names.
	OwnerGroup string     `gorm:"type:text;not null"`               // Owning group identity.

	LimitValue  int64  `gorm:"not null;default:0"`            // Requests allowed per window.
	LimitWindow string `gorm:"type:text;not null;default:''"` // Window size, e.g. "1m".

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
