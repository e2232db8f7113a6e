package models

import "time"

// AccessPolicy grants a set of identity groups access to a set of models.
type AccessPolicy struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string `gorm:"type:text;not null;uniqueIndex"` // Unique policy identifier.

	ModelRefs     StringList `gorm:"type:jsonb;not null;default:'[]'"` // Referenced model names.
	AllowedGroups StringList `gorm:"type:jsonb;not null;default:'[]'"` // Authorized group identities.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
