package enforce

import (
	"context"
	"time"
)

// Outcome classifies the verdict for a checked request.
type Outcome int

const (
	// OutcomeAllowed passes both gates.
	OutcomeAllowed Outcome = iota
	// OutcomeDeniedAccess fails the authorization gate.
	OutcomeDeniedAccess
	// OutcomeDeniedQuota passes authorization but exhausts the quota
	// window.
	OutcomeDeniedQuota
)

// Verdict is the full result of checking one request.
type Verdict struct {
	Outcome   Outcome
	RuleKey   string
	Baseline  bool
	Remaining int64
	Reset     time.Time
}

// Enforcer combines rule evaluation with quota counting. The access gate is
// always evaluated first; a request that fails it never consumes quota.
type Enforcer struct {
	gate    *Gatekeeper
	limiter *Manager
}

// NewEnforcer constructs an enforcer over gate and limiter.
func NewEnforcer(gate *Gatekeeper, limiter *Manager) *Enforcer {
	return &Enforcer{gate: gate, limiter: limiter}
}

// Gatekeeper exposes the underlying ruleset holder for publish wiring.
func (e *Enforcer) Gatekeeper() *Gatekeeper {
	return e.gate
}

// Check runs both gates for one request. The quota count is scoped to the
// owning group, so members of one group share a window.
func (e *Enforcer) Check(ctx context.Context, model string, groups []string) (Verdict, error) {
	decision := e.gate.Decide(model, groups)
	if !decision.AccessAllowed {
		return Verdict{Outcome: OutcomeDeniedAccess}, nil
	}

	identityKey := decision.Quota.OwnerGroup
	if decision.Quota.Baseline {
		identityKey = model
	}
	result, err := e.limiter.Allow(ctx, identityKey, decision.Quota)
	if err != nil {
		return Verdict{}, err
	}
	verdict := Verdict{
		RuleKey:   decision.Quota.RuleKey,
		Baseline:  decision.Quota.Baseline,
		Remaining: result.Remaining,
		Reset:     result.Reset,
	}
	if !result.Allowed {
		verdict.Outcome = OutcomeDeniedQuota
		return verdict, nil
	}
	verdict.Outcome = OutcomeAllowed
	return verdict, nil
}
