package reconcile

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/models"
)

// RuleStore persists generated rules. All reads and deletes are scoped to
// rows carrying the manager marker so that rules created by other writers
// are never touched.
type RuleStore struct {
	db *gorm.DB
}

// NewRuleStore constructs a rule store backed by db.
func NewRuleStore(db *gorm.DB) *RuleStore {
	if db == nil {
		return nil
	}
	return &RuleStore{db: db}
}

// ListAccess returns all managed access rules keyed by rule key.
func (s *RuleStore) ListAccess(ctx context.Context) (map[string]models.GeneratedAccessRule, error) {
	var rows []models.GeneratedAccessRule
	if err := s.db.WithContext(ctx).Where("managed_by = ?", models.ManagedBy).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reconcile: list access rules: %w", err)
	}
	out := make(map[string]models.GeneratedAccessRule, len(rows))
	for _, r := range rows {
		out[r.RuleKey] = r
	}
	return out, nil
}

// ListQuota returns all managed quota rules keyed by rule key, the baseline
// row included.
func (s *RuleStore) ListQuota(ctx context.Context) (map[string]models.GeneratedQuotaRule, error) {
	var rows []models.GeneratedQuotaRule
	if err := s.db.WithContext(ctx).Where("managed_by = ?", models.ManagedBy).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reconcile: list quota rules: %w", err)
	}
	out := make(map[string]models.GeneratedQuotaRule, len(rows))
	for _, r := range rows {
		out[r.RuleKey] = r
	}
	return out, nil
}

// CreateAccess inserts a managed access rule.
func (s *RuleStore) CreateAccess(ctx context.Context, rule models.GeneratedAccessRule) error {
	rule.ManagedBy = models.ManagedBy
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return fmt.Errorf("reconcile: create access rule %s: %w", rule.RuleKey, err)
	}
	return nil
}

// UpdateAccess rewrites the mutable fields of a managed access rule.
func (s *RuleStore) UpdateAccess(ctx context.Context, rule models.GeneratedAccessRule) error {
	err := s.db.WithContext(ctx).
		Model(&models.GeneratedAccessRule{}).
		Where("rule_key = ? AND managed_by = ?", rule.RuleKey, models.ManagedBy).
		Updates(map[string]interface{}{
			"policy_name": rule.PolicyName,
			"model_name":  rule.ModelName,
			"groups":      rule.Groups,
		}).Error
	if err != nil {
		return fmt.Errorf("reconcile: update access rule %s: %w", rule.RuleKey, err)
	}
	return nil
}

// DeleteAccess removes a managed access rule by rule key.
func (s *RuleStore) DeleteAccess(ctx context.Context, ruleKey string) error {
	err := s.db.WithContext(ctx).
		Where("rule_key = ? AND managed_by = ?", ruleKey, models.ManagedBy).
		Delete(&models.GeneratedAccessRule{}).Error
	if err != nil {
		return fmt.Errorf("reconcile: delete access rule %s: %w", ruleKey, err)
	}
	return nil
}

// CreateQuota inserts a managed quota rule.
func (s *RuleStore) CreateQuota(ctx context.Context, rule models.GeneratedQuotaRule) error {
	rule.ManagedBy = models.ManagedBy
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return fmt.Errorf("reconcile: create quota rule %s: %w", rule.RuleKey, err)
	}
	return nil
}

// UpdateQuota rewrites the mutable fields of a managed quota rule.
func (s *RuleStore) UpdateQuota(ctx context.Context, rule models.GeneratedQuotaRule) error {
	err := s.db.WithContext(ctx).
		Model(&models.GeneratedQuotaRule{}).
		Where("rule_key = ? AND managed_by = ?", rule.RuleKey, models.ManagedBy).
		Updates(map[string]interface{}{
			"subscription_name": rule.SubscriptionName,
			"model_name":        rule.ModelName,
			"owner_group":       rule.OwnerGroup,
			"limit_value":       rule.LimitValue,
			"limit_window":      rule.LimitWindow,
		}).Error
	if err != nil {
		return fmt.Errorf("reconcile: update quota rule %s: %w", rule.RuleKey, err)
	}
	return nil
}

// DeleteQuota removes a managed quota rule by rule key.
func (s *RuleStore) DeleteQuota(ctx context.Context, ruleKey string) error {
	err := s.db.WithContext(ctx).
		Where("rule_key = ? AND managed_by = ?", ruleKey, models.ManagedBy).
		Delete(&models.GeneratedQuotaRule{}).Error
	if err != nil {
		return fmt.Errorf("reconcile: delete quota rule %s: %w", ruleKey, err)
	}
	return nil
}

// EnsureBaseline installs the process-wide default-deny quota rule if it is
// not already present. The baseline has an empty model scope and a zero
// limit so that traffic to any model without a matching subscription is
// rejected. Re-installation is a no-op, which keeps startup idempotent.
func (s *RuleStore) EnsureBaseline(ctx context.Context) error {
	baseline := models.GeneratedQuotaRule{
		RuleKey:          models.BaselineRuleKey,
		SubscriptionName: "",
		ModelName:        models.BaselineScope,
		OwnerGroup:       "",
		LimitValue:       0,
		LimitWindow:      "1m",
		ManagedBy:        models.ManagedBy,
	}
	err := s.db.WithContext(ctx).
		Where(models.GeneratedQuotaRule{RuleKey: models.BaselineRuleKey}).
		FirstOrCreate(&baseline).Error
	if err != nil {
		return fmt.Errorf("reconcile: ensure baseline rule: %w", err)
	}
	return nil
}
