package credit

import (
	"math"
	"time"
)

// Flags is the per-team policy bitset carried on the credit chunk.
type Flags uint8

const (
	FlagForceZDR Flags = 1 << iota
	FlagAllowZDR
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// UnlimitedCredits is the remaining-credit value reported for teams that
// are not subject to credit accounting.
const UnlimitedCredits = math.MaxInt32

// Chunk is a snapshot of a team's billing state loaded at authentication
// time. It is immutable within one request and refreshed between requests.
type Chunk struct {
	TeamID                string     `json:"team_id"`
	AdjustedCreditsUsed   int        `json:"adjusted_credits_used"`
	RemainingCredits      int        `json:"remaining_credits"`
	TotalCreditsSum       int        `json:"total_credits_sum"`
	SubID                 *string    `json:"sub_id,omitempty"`
	SubCurrentPeriodStart *time.Time `json:"sub_current_period_start,omitempty"`
	SubCurrentPeriodEnd   *time.Time `json:"sub_current_period_end,omitempty"`
	IsExtract             bool       `json:"is_extract"`
	Flags                 Flags      `json:"flags"`
	Concurrency           int        `json:"concurrency"`
}

// CheckResult is the outcome of a credit admission check.
type CheckResult struct {
	Admitted  bool
	Remaining int
	Chunk     *Chunk
	Message   string
}

// AutoRechargeConfig is a team's recharge policy, loaded from the billing
// backend and cached for five minutes.
type AutoRechargeConfig struct {
	Enabled          bool `json:"enabled"`
	TriggerThreshold int  `json:"trigger_threshold"`
}

// BillingEvent is one pending usage deduction.
type BillingEvent struct {
	TeamID    string    `json:"team_id"`
	SubID     *string   `json:"sub_id,omitempty"`
	Credits   int       `json:"credits"`
	IsExtract bool      `json:"is_extract"`
	At        time.Time `json:"at"`
}
