package models

import "time"

// Credential statuses.
const (
	// CredentialStatusActive marks a credential that validates successfully.
	CredentialStatusActive = "active"
	// CredentialStatusRevoked marks a credential revoked by its owner.
	CredentialStatusRevoked = "revoked"
	// CredentialStatusExpired marks a credential past its expiry.
	CredentialStatusExpired = "expired"
)

// Credential kinds.
const (
	// CredentialKindToken is a short-lived token minted via /v1/tokens.
	CredentialKindToken = "token"
	// CredentialKindAPIKey is a named long-lived key minted via /v2/api-keys.
	CredentialKindAPIKey = "api_key"
)

// Credential stores an issued bearer credential. Only the one-way hash of the
// secret is persisted; the plaintext exists solely in the issuance response.
type Credential struct {
	ID string `gorm:"type:text;primaryKey"` // Credential UUID.

	Username    string `gorm:"type:text;not null;index:idx_credentials_username_created_at,priority:1"` // Owning identity.
	Name        string `gorm:"type:text;not null"`                                                      // Display name.
	Description string `gorm:"type:text"`                                                               // Optional description.
	Kind        string `gorm:"type:text;not null;default:'api_key'"`                                    // token or api_key.

	KeyHash   string `gorm:"type:text;not null;uniqueIndex"` // SHA-256 hex of the plaintext secret.
	KeyPrefix string `gorm:"type:text;not null"`             // Non-secret display prefix.

	Status   string `gorm:"type:text;not null;default:'active'"` // active, revoked or expired.
	TierName string `gorm:"type:text"`                           // Tier label determined at issuance.

	OriginalUserGroups StringList `gorm:"type:jsonb;not null;default:'[]'"` // Group snapshot at issuance.

	CreatedAt  time.Time  `gorm:"not null;autoCreateTime;index:idx_credentials_username_created_at,priority:2"` // Creation timestamp.
	ExpiresAt  *time.Time ``                                                                                    // Optional expiry, nil means non-expiring.
	RevokedAt  *time.Time ``                                                                                    // Set when revoked.
	LastUsedAt *time.Time ``                                                                                    // Updated by the validation hot path.
}

// ExpiredAt reports whether the credential is past its expiry at the given time.
func (c Credential) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// EffectiveStatus resolves the stored status against the clock, so a row whose
// expiry passed without a bookkeeping write still reads as expired.
func (c Credential) EffectiveStatus(now time.Time) string {
	if c.Status == CredentialStatusActive && c.ExpiredAt(now) {
		return CredentialStatusExpired
	}
	return c.Status
}
