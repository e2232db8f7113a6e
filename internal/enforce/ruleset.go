// Package enforce evaluates requests against the converged generated rules.
// It keeps an atomically swappable ruleset snapshot published by the
// reconciliation engine and answers the two gate questions for a request:
// is the caller allowed to reach the model at all, and which quota rule
// applies. The two gates stay independent so that an authorization denial
// and a quota exhaustion surface as distinct outcomes.
package enforce

import (
	"sync/atomic"
	"time"

	"github.com/modelgate/modelgate/internal/models"
	"github.com/modelgate/modelgate/internal/policy"
)

// QuotaBinding is the quota rule selected for a request.
type QuotaBinding struct {
	RuleKey     string
	OwnerGroup  string
	LimitValue  int64
	LimitWindow time.Duration
	Baseline    bool
}

// Decision is the rule evaluation outcome for one (model, groups) pair.
// AccessAllowed answers the authorization gate; Quota carries the rule the
// quota gate must count against, baseline included.
type Decision struct {
	AccessAllowed bool
	Quota         QuotaBinding
}

// Ruleset is an immutable index over one published desired set.
type Ruleset struct {
	accessByModel map[string][]models.GeneratedAccessRule
	quotaByModel  map[string][]models.GeneratedQuotaRule
	baseline      QuotaBinding
}

// Gatekeeper holds the current ruleset and evaluates decisions against it.
// Swaps are atomic; readers always see a complete snapshot.
type Gatekeeper struct {
	current atomic.Pointer[Ruleset]
}

// NewGatekeeper constructs a gatekeeper with an empty ruleset, which denies
// everything until the first publish.
func NewGatekeeper() *Gatekeeper {
	g := &Gatekeeper{}
	g.Swap(policy.DesiredSet{})
	return g
}

// Swap replaces the active ruleset with a fresh index over set.
func (g *Gatekeeper) Swap(set policy.DesiredSet) {
	rs := &Ruleset{
		accessByModel: make(map[string][]models.GeneratedAccessRule),
		quotaByModel:  make(map[string][]models.GeneratedQuotaRule),
		baseline: QuotaBinding{
			RuleKey:     models.BaselineRuleKey,
			LimitValue:  0,
			LimitWindow: time.Minute,
			Baseline:    true,
		},
	}
	for _, rule := range set.AccessRules {
		rs.accessByModel[rule.ModelName] = append(rs.accessByModel[rule.ModelName], rule)
	}
	for _, rule := range set.QuotaRules {
		rs.quotaByModel[rule.ModelName] = append(rs.quotaByModel[rule.ModelName], rule)
	}
	g.current.Store(rs)
}

// Decide evaluates the access gate and resolves the quota rule for a
// request. Access requires at least one rule on the model granting one of
// the caller's groups; absence of rules denies. The quota rule is the most
// specific match: a model-scoped rule owned by one of the caller's groups
// beats the process-wide baseline.
func (g *Gatekeeper) Decide(model string, groups []string) Decision {
	rs := g.current.Load()
	d := Decision{Quota: rs.baseline}

	for _, rule := range rs.accessByModel[model] {
		if intersects(rule.Groups, groups) {
			d.AccessAllowed = true
			break
		}
	}

	for _, rule := range rs.quotaByModel[model] {
		if !containsString(groups, rule.OwnerGroup) {
			continue
		}
		d.Quota = QuotaBinding{
			RuleKey:     rule.RuleKey,
			OwnerGroup:  rule.OwnerGroup,
			LimitValue:  rule.LimitValue,
			LimitWindow: parseWindow(rule.LimitWindow),
		}
		break
	}
	return d
}

// ListAccessibleModels returns the models on which at least one of the
// caller's groups is granted access.
func (g *Gatekeeper) ListAccessibleModels(groups []string) []string {
	rs := g.current.Load()
	var out []string
	for model, rules := range rs.accessByModel {
		for _, rule := range rules {
			if intersects(rule.Groups, groups) {
				out = append(out, model)
				break
			}
		}
	}
	return out
}

func parseWindow(window string) time.Duration {
	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if containsString(b, x) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
