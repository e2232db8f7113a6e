package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/models"
)

// Sentinel errors surfaced by the store.
var (
	// ErrNotAuthorized is the single outcome for every validation failure;
	// the reason (unknown, revoked, expired, storage down) is never
	// distinguished to the caller.
	ErrNotAuthorized = errors.New("credential: not authorized")
	// ErrNotFound means the credential id does not exist for the caller.
	ErrNotFound = errors.New("credential: not found")
	// ErrConflict means issuance hit the hash uniqueness constraint; the
	// caller may simply re-issue.
	ErrConflict = errors.New("credential: hash conflict, retry issuance")
)

// lastUsedTimeout bounds the detached last-used bookkeeping write.
const lastUsedTimeout = 2 * time.Second

// IssueParams holds inputs for credential issuance.
type IssueParams struct {
	Username    string         // Owning identity, required.
	Groups      []string       // Group snapshot at issuance time.
	Tier        string         // Tier label.
	Kind        string         // models.CredentialKindToken or models.CredentialKindAPIKey.
	Name        string         // Display name.
	Description string         // Optional description.
	TTL         *time.Duration // Nil means non-expiring.
}

// Issued is the one-time issuance result. Plaintext is not retrievable again.
type Issued struct {
	Credential models.Credential
	Plaintext  string
}

// Identity is the validation hot-path result.
type Identity struct {
	CredentialID string
	Username     string
	Groups       []string
	Tier         string
	Kind         string
}

// Store issues, validates and revokes bearer credentials on top of GORM.
// The contract is identical across all storage tiers.
type Store struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewStore constructs a Store. A nil nowFn defaults to time.Now.
func NewStore(db *gorm.DB, nowFn func() time.Time) *Store {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Store{db: db, nowFn: nowFn}
}

// Issue mints a new credential and persists its hash. The plaintext secret is
// returned exactly once and discarded afterwards. Hash uniqueness is enforced
// by the storage layer, not by a check-then-insert.
func (s *Store) Issue(ctx context.Context, params IssueParams) (*Issued, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return nil, fmt.Errorf("credential: issue: missing username")
	}
	if params.TTL != nil && *params.TTL <= 0 {
		return nil, fmt.Errorf("credential: issue: expiration must be positive")
	}

	plaintext, hash, prefix, errGenerate := GenerateKey()
	if errGenerate != nil {
		return nil, errGenerate
	}

	now := s.nowFn().UTC()
	var expiresAt *time.Time
	if params.TTL != nil {
		expiry := now.Add(*params.TTL)
		expiresAt = &expiry
	}

	kind := params.Kind
	if kind == "" {
		kind = models.CredentialKindAPIKey
	}

	row := models.Credential{
		ID:                 uuid.New().String(),
		Username:           username,
		Name:               strings.TrimSpace(params.Name),
		Description:        strings.TrimSpace(params.Description),
		Kind:               kind,
		KeyHash:            hash,
		KeyPrefix:          prefix,
		Status:             models.CredentialStatusActive,
		TierName:           params.Tier,
		OriginalUserGroups: models.StringList(params.Groups).Clean(),
		CreatedAt:          now,
		ExpiresAt:          expiresAt,
	}

	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("credential: issue: %w", errCreate)
	}

	log.Infof("credential: issued %s %s for %s", kind, row.ID, username)
	return &Issued{Credential: row, Plaintext: plaintext}, nil
}

// Validate resolves a presented secret to its owning identity. It executes on
// every authenticated request and fails closed: any miss, revocation, expiry
// or storage failure yields ErrNotAuthorized without distinguishing the cause.
// The last-used timestamp is recorded on a detached best-effort path.
func (s *Store) Validate(ctx context.Context, presented string) (*Identity, error) {
	if !IsValidKeyFormat(presented) {
		return nil, ErrNotAuthorized
	}
	hash := HashKey(presented)

	var row models.Credential
	errFind := s.db.WithContext(ctx).Where("key_hash = ?", hash).First(&row).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).Warn("credential: validate lookup failed, denying")
		}
		return nil, ErrNotAuthorized
	}

	if row.EffectiveStatus(s.nowFn().UTC()) != models.CredentialStatusActive {
		return nil, ErrNotAuthorized
	}

	s.touchLastUsed(row.ID)

	return &Identity{
		CredentialID: row.ID,
		Username:     row.Username,
		Groups:       append([]string(nil), row.OriginalUserGroups...),
		Tier:         row.TierName,
		Kind:         row.Kind,
	}, nil
}

// touchLastUsed updates last_used_at off the hot path. Failures are logged,
// never surfaced; the goroutine uses its own context since the request one
// may already be cancelled.
func (s *Store) touchLastUsed(id string) {
	now := s.nowFn().UTC()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("credential: panic updating last_used_at for %s: %v", id, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
		defer cancel()
		if errUpdate := s.db.WithContext(ctx).Model(&models.Credential{}).
			Where("id = ?", id).
			Update("last_used_at", now).Error; errUpdate != nil {
			log.WithError(errUpdate).Warnf("credential: update last_used_at for %s failed", id)
		}
	}()
}

// List returns credentials owned by the identity, newest first, with the
// stored status normalized against the clock. kind narrows the listing;
// empty lists both kinds.
func (s *Store) List(ctx context.Context, username, kind string) ([]models.Credential, error) {
	query := s.db.WithContext(ctx).Where("username = ?", username)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	var rows []models.Credential
	if errFind := query.
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("credential: list: %w", errFind)
	}
	now := s.nowFn().UTC()
	for i := range rows {
		rows[i].Status = rows[i].EffectiveStatus(now)
	}
	return rows, nil
}

// Get returns one credential scoped to the owning identity.
func (s *Store) Get(ctx context.Context, username, id string) (*models.Credential, error) {
	var row models.Credential
	errFind := s.db.WithContext(ctx).
		Where("id = ? AND username = ?", id, username).
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("credential: get: %w", errFind)
	}
	row.Status = row.EffectiveStatus(s.nowFn().UTC())
	return &row, nil
}

// Revoke transitions a credential from active to revoked. The update is
// conditional, so concurrent revokes are idempotent: a second revoke matches
// zero rows and succeeds as a no-op.
func (s *Store) Revoke(ctx context.Context, username, id string) error {
	now := s.nowFn().UTC()
	res := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ? AND username = ? AND status = ?", id, username, models.CredentialStatusActive).
		Updates(map[string]any{
			"status":     models.CredentialStatusRevoked,
			"revoked_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("credential: revoke: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Infof("credential: revoked %s for %s", id, username)
		return nil
	}

	// Distinguish already-revoked (no-op) from unknown id.
	var count int64
	if errCount := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ? AND username = ?", id, username).
		Count(&count).Error; errCount != nil {
		return fmt.Errorf("credential: revoke: %w", errCount)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAll revokes every active credential owned by the identity, narrowed
// to one kind when kind is non-empty. It uses the same conditional guard as
// Revoke and is idempotent; the count of newly revoked rows is returned.
func (s *Store) RevokeAll(ctx context.Context, username, kind string) (int64, error) {
	now := s.nowFn().UTC()
	query := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("username = ? AND status = ?", username, models.CredentialStatusActive)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	res := query.Updates(map[string]any{
		"status":     models.CredentialStatusRevoked,
		"revoked_at": &now,
	})
	if res.Error != nil {
		return 0, fmt.Errorf("credential: revoke all: %w", res.Error)
	}
	log.Infof("credential: revoked %d credentials for %s", res.RowsAffected, username)
	return res.RowsAffected, nil
}

// NormalizeExpired flips active rows whose expiry has passed to expired.
// Validation and reads already treat them as expired; this keeps the stored
// status accurate for audits.
func (s *Store) NormalizeExpired(ctx context.Context) (int64, error) {
	now := s.nowFn().UTC()
	res := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.CredentialStatusActive, now).
		Update("status", models.CredentialStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("credential: normalize expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}
