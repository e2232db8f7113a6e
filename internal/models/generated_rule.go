package models

import "time"

// ManagedBy marks generated rule rows owned by the reconciliation engine.
// Ownership is decided by this marker plus the derived rule key, never by
// naming convention.
const ManagedBy = "modelgate"

// BaselineScope is the model scope of the process-wide default-deny quota
// rule. Route-scoped rules take precedence wherever both apply.
const BaselineScope = ""

// BaselineRuleKey is the fixed rule key of the default-deny baseline. It is
// not derived from any declaration pair, so garbage collection never selects
// it for deletion.
const BaselineRuleKey = "baseline-default-deny"

// GeneratedAccessRule is derived from one (AccessPolicy, Model) pair.
// It is owned by the reconciliation engine and never hand-edited.
type GeneratedAccessRule struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RuleKey string `gorm:"type:text;not null;uniqueIndex"` // Derived key hash(policy, model).

	PolicyName string `gorm:"type:text;not null;index"` // Source access policy name.
	ModelName  string `gorm:"type:text;not null;index"` // Target model name.

	Groups StringList `gorm:"type:jsonb;not null;default:'[]'"` // Granted group identities.

	ManagedBy string `gorm:"type:text;not null;index"` // Ownership marker.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// GeneratedQuotaRule is derived from one (Subscription, Model) pair, or is
// the default-deny baseline when ModelName equals BaselineScope.
type GeneratedQuotaRule struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RuleKey string `gorm:"type:text;not null;uniqueIndex"` // Derived key hash(subscription, model).

	SubscriptionName string `gorm:"type:text;not null;index"` // Source subscription name.
	ModelName        string `gorm:"type:text;index"`          // Target model name, empty for baseline.

	OwnerGroup  string `gorm:"type:text;not null"`            // Owning group identity.
	LimitValue  int64  `gorm:"not null;default:0"`            // Requests allowed per window.
	LimitWindow string `gorm:"type:text;not null;default:''"` // Window size, e.g. "1m".

	ManagedBy string `gorm:"type:text;not null;index"` // Ownership marker.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
