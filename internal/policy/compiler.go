// Package policy compiles Model, AccessPolicy and Subscription declarations
// into the desired set of generated per-model rule objects. Compilation is a
// pure, deterministic transform: identical snapshots always yield identical
// desired sets, which makes re-derivation on every change event cheap and
// reconciliation idempotent.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/models"
)

// Snapshot is the full declaration state the compiler works from.
type Snapshot struct {
	Models         []models.Model
	AccessPolicies []models.AccessPolicy
	Subscriptions  []models.Subscription
}

// DesiredSet is the compiler output: one access rule per resolving
// (AccessPolicy, Model) pair and one quota rule per resolving
// (Subscription, Model) pair, sorted by rule key.
type DesiredSet struct {
	AccessRules []models.GeneratedAccessRule
	QuotaRules  []models.GeneratedQuotaRule
}

// RuleKey derives the stable ownership key for a (source, model) pair.
// Re-derivation is idempotent: the same pair always maps to the same key.
func RuleKey(sourceName, modelName string) string {
	sum := sha256.Sum256([]byte(sourceName + "/" + modelName))
	return hex.EncodeToString(sum[:16])
}

// Compile produces the desired rule set for a snapshot. Model refs that do
// not resolve to a declared model are logged and skipped; duplicate refs
// within one declaration are deduplicated before emission. Models with no
// resolving policy get no access rule (deny by absence); models with no
// resolving subscription get no quota rule and fall through to the
// process-wide default-deny baseline.
func Compile(snap Snapshot) DesiredSet {
	known := make(map[string]struct{}, len(snap.Models))
	for _, m := range snap.Models {
		known[m.Name] = struct{}{}
	}

	var out DesiredSet

	for _, pol := range snap.AccessPolicies {
		for _, ref := range pol.ModelRefs.Clean() {
			if _, ok := known[ref]; !ok {
				log.Warnf("policy: access policy %s references unknown model %s, skipping", pol.Name, ref)
				continue
			}
			out.AccessRules = append(out.AccessRules, models.GeneratedAccessRule{
				RuleKey:    RuleKey(pol.Name, ref),
				PolicyName: pol.Name,
				ModelName:  ref,
				Groups:     pol.AllowedGroups.Clean(),
				ManagedBy:  models.ManagedBy,
			})
		}
	}

	for _, sub := range snap.Subscriptions {
		for _, ref := range sub.ModelRefs.Clean() {
			if _, ok := known[ref]; !ok {
				log.Warnf("policy: subscription %s references unknown model %s, skipping", sub.Name, ref)
				continue
			}
			out.QuotaRules = append(out.QuotaRules, models.GeneratedQuotaRule{
				RuleKey:          RuleKey(sub.Name, ref),
				SubscriptionName: sub.Name,
				ModelName:        ref,
				OwnerGroup:       sub.OwnerGroup,
				LimitValue:       sub.LimitValue,
				LimitWindow:      sub.LimitWindow,
				ManagedBy:        models.ManagedBy,
			})
		}
	}

	sort.Slice(out.AccessRules, func(i, j int) bool {
		return out.AccessRules[i].RuleKey < out.AccessRules[j].RuleKey
	})
	sort.Slice(out.QuotaRules, func(i, j int) bool {
		return out.QuotaRules[i].RuleKey < out.QuotaRules[j].RuleKey
	})

	return out
}
