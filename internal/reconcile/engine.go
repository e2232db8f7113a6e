// Package reconcile drives generated rule state toward the desired set
// compiled from the current declarations. Each pass snapshots declarations,
// compiles them, diffs the result against the stored rules and applies the
// minimal create, update and delete operations, leaving an unchanged state
// untouched.
package reconcile

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/models"
	"github.com/modelgate/modelgate/internal/policy"
)

// Result counts the writes performed by one reconciliation pass.
type Result struct {
	AccessCreated int
	AccessUpdated int
	AccessDeleted int
	QuotaCreated  int
	QuotaUpdated  int
	QuotaDeleted  int
}

// Empty reports whether the pass performed no writes at all.
func (r Result) Empty() bool {
	return r == Result{}
}

// Engine reconciles declarations into generated rules. An optional publish
// hook receives the converged desired set after every successful pass so the
// enforcement layer can swap in the new ruleset atomically.
type Engine struct {
	db      *gorm.DB
	rules   *RuleStore
	publish func(policy.DesiredSet)
}

// NewEngine constructs a reconciliation engine. publish may be nil.
func NewEngine(db *gorm.DB, publish func(policy.DesiredSet)) *Engine {
	if db == nil {
		return nil
	}
	return &Engine{
		db:      db,
		rules:   NewRuleStore(db),
		publish: publish,
	}
}

// Snapshot loads the full declaration state in one read pass.
func (e *Engine) Snapshot(ctx context.Context) (policy.Snapshot, error) {
	var snap policy.Snapshot
	if err := e.db.WithContext(ctx).Order("name ASC").Find(&snap.Models).Error; err != nil {
		return policy.Snapshot{}, fmt.Errorf("reconcile: load models: %w", err)
	}
	if err := e.db.WithContext(ctx).Order("name ASC").Find(&snap.AccessPolicies).Error; err != nil {
		return policy.Snapshot{}, fmt.Errorf("reconcile: load access policies: %w", err)
	}
	if err := e.db.WithContext(ctx).Order("name ASC").Find(&snap.Subscriptions).Error; err != nil {
		return policy.Snapshot{}, fmt.Errorf("reconcile: load subscriptions: %w", err)
	}
	return snap, nil
}

// Reconcile runs one full pass. Apply failures on individual rules are
// logged and do not abort the pass; the first such failure is returned so
// the caller can requeue. A pass over unchanged state performs zero writes.
func (e *Engine) Reconcile(ctx context.Context) (Result, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	desired := policy.Compile(snap)

	actualAccess, err := e.rules.ListAccess(ctx)
	if err != nil {
		return Result{}, err
	}
	actualQuota, err := e.rules.ListQuota(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	var firstErr error
	keep := func(err error) {
		if err != nil {
			log.WithError(err).Warn("reconcile: apply failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	desiredAccessKeys := make(map[string]struct{}, len(desired.AccessRules))
	for _, want := range desired.AccessRules {
		desiredAccessKeys[want.RuleKey] = struct{}{}
		have, ok := actualAccess[want.RuleKey]
		switch {
		case !ok:
			if err := e.rules.CreateAccess(ctx, want); err != nil {
				keep(err)
				continue
			}
			res.AccessCreated++
		case !accessEqual(have, want):
			if err := e.rules.UpdateAccess(ctx, want); err != nil {
				keep(err)
				continue
			}
			res.AccessUpdated++
		}
	}
	for key := range actualAccess {
		if _, ok := desiredAccessKeys[key]; ok {
			continue
		}
		if err := e.rules.DeleteAccess(ctx, key); err != nil {
			keep(err)
			continue
		}
		res.AccessDeleted++
	}

	desiredQuotaKeys := make(map[string]struct{}, len(desired.QuotaRules))
	for _, want := range desired.QuotaRules {
		desiredQuotaKeys[want.RuleKey] = struct{}{}
		have, ok := actualQuota[want.RuleKey]
		switch {
		case !ok:
			if err := e.rules.CreateQuota(ctx, want); err != nil {
				keep(err)
				continue
			}
			res.QuotaCreated++
		case !quotaEqual(have, want):
			if err := e.rules.UpdateQuota(ctx, want); err != nil {
				keep(err)
				continue
			}
			res.QuotaUpdated++
		}
	}
	for key := range actualQuota {
		if _, ok := desiredQuotaKeys[key]; ok {
			continue
		}
		// The baseline is installed at startup, not compiled from a
		// declaration, and must survive garbage collection.
		if key == models.BaselineRuleKey {
			continue
		}
		if err := e.rules.DeleteQuota(ctx, key); err != nil {
			keep(err)
			continue
		}
		res.QuotaDeleted++
	}

	if !res.Empty() {
		log.Infof("reconcile: pass applied access=%d/%d/%d quota=%d/%d/%d (created/updated/deleted)",
			res.AccessCreated, res.AccessUpdated, res.AccessDeleted,
			res.QuotaCreated, res.QuotaUpdated, res.QuotaDeleted)
	}

	if firstErr == nil && e.publish != nil {
		e.publish(desired)
	}
	return res, firstErr
}

func accessEqual(a, b models.GeneratedAccessRule) bool {
	return a.PolicyName == b.PolicyName &&
		a.ModelName == b.ModelName &&
		stringsEqual(a.Groups, b.Groups)
}

// stringsEqual treats nil and empty as the same list; a compiled rule and
// its stored row must not diff apart on JSON round-trip artifacts.
func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func quotaEqual(a, b models.GeneratedQuotaRule) bool {
	return a.SubscriptionName == b.SubscriptionName &&
		a.ModelName == b.ModelName &&
		a.OwnerGroup == b.OwnerGroup &&
		a.LimitValue == b.LimitValue &&
		a.LimitWindow == b.LimitWindow
}
