package points

import (
	"errors"
	"time"
)

// Points are int64 in hundredths, multipliers too (150 == 1.5x). No floats.

// MaxMultiplier caps an override multiplier at 10x. Stored values outside
// [0, MaxMultiplier] are a data-integrity issue and are clamped on read,
// never a crash.
const MaxMultiplier int64 = 1000

// OneMultiplier is the identity multiplier.
const OneMultiplier int64 = 100

// Rule is a platform-wide earnable action. ActionType is the unique key
// callers fire after an action completes (e.g. "pab_registration_create").
type Rule struct {
	ID           string    `json:"id"`
	RuleName     string    `json:"rule_name"`
	ActionType   string    `json:"action_type"`
	PointsAmount int64     `json:"points_amount"`
	Description  string    `json:"description,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// RuleOverride tunes one rule for one organization. A rule with no
// override, or a disabled one, awards nothing.
type RuleOverride struct {
	OrganizationID string    `json:"organization_id"`
	RuleID         string    `json:"rule_id"`
	Enabled        bool      `json:"enabled"`
	Multiplier     int64     `json:"multiplier"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrgRule is a rule joined with the organization's override for admin UIs.
type OrgRule struct {
	Rule
	OrgEnabled    bool  `json:"org_enabled"`
	OrgMultiplier int64 `json:"org_multiplier"`
}

// LedgerEntry is one append-only grant or debit. The ledger is immutable
// history: toggling rules never rewrites past entries.
type LedgerEntry struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Amount         int64     `json:"amount"`
	OperationType  string    `json:"operation_type"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Balance is the organization's running fold of the ledger. Invariant:
// Balance equals the sum of all ledger entries for the organization, at all
// times.
type Balance struct {
	OrganizationID string    `json:"organization_id"`
	Balance        int64     `json:"balance"`
	TotalEarned    int64     `json:"total_earned"`
	TotalSpent     int64     `json:"total_spent"`
	Enabled        bool      `json:"enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Delta is the outcome of AwardPoints. A zero delta with an empty rule name
// means no rule matched or awarding is switched off somewhere along the
// chain; that is a normal outcome, not an error.
type Delta struct {
	Amount   int64  `json:"amount"`
	RuleName string `json:"rule_name,omitempty"`
}

// Operation types written to the ledger by ManualAdjust.
const (
	OpAdminAdd      = "admin_add"
	OpAdminSubtract = "admin_subtract"
)

var (
	ErrValidation         = errors.New("points: invalid input")
	ErrNotFound           = errors.New("points: not found")
	ErrInsufficientPoints = errors.New("points: insufficient balance")
)

// ClampMultiplier forces a stored multiplier into the legal range.
func ClampMultiplier(m int64) int64 {
	if m < 0 {
		return 0
	}
	if m > MaxMultiplier {
		return MaxMultiplier
	}
	return m
}
