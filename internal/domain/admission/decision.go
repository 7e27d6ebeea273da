package admission

import (
	"fmt"
	"time"

	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Decision reasons reported alongside a verdict
const (
	ReasonApprovalUnanimous  = "approve reactions only"
	ReasonApprovalRejected   = "deny reactions only"
	ReasonApprovalMixed      = "mixed reactions"
	ReasonApprovalEmpty      = "no reactions"
	ReasonWindowOpen         = "review window open"
	ReasonInsufficient       = "not enough votes"
	ReasonSupermajorityDeny  = "supermajority deny"
	ReasonContested          = "contested, needs manual decision"
	ReasonPlainDeny          = "deny floor reached"
	ReasonPlainApprove       = "approval threshold reached"
	ReasonUndecided          = "undecided"
	ReasonManual             = "manual decision"
	ReasonApprovalMsgMissing = "approval message missing"
)

// Thresholds tunes the ratification vote
type Thresholds struct {
	// ApprovalThreshold is the approvals needed for a plain approve
	ApprovalThreshold int
	// DenyFloor is the denies needed for a plain deny
	DenyFloor int
	// ContestMinApprovals and ContestMinDenies mark a vote as contested
	ContestMinApprovals int
	ContestMinDenies    int
	// SupermajorityRatio is how many denies per approval trigger a fast deny
	SupermajorityRatio decimal.Decimal
	// Quorum is the minimum participation for a fast deny
	Quorum int
	// EarlyApprovalThreshold lets a vote pass before the window closes. 0 disables it.
	EarlyApprovalThreshold int
	// ReviewWindow is the minimum age of an application before the public vote is counted
	ReviewWindow time.Duration
}

// DefaultThresholds returns the thresholds used when nothing is configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		ApprovalThreshold:      10,
		DenyFloor:              5,
		ContestMinApprovals:    3,
		ContestMinDenies:       3,
		SupermajorityRatio:     decimal.NewFromInt(3),
		Quorum:                 11,
		EarlyApprovalThreshold: 20,
		ReviewWindow:           72 * time.Hour,
	}
}

// Validate checks that the thresholds can produce a decision
func (t Thresholds) Validate() error {
	switch {
	case t.ApprovalThreshold < 1:
		return shared.ErrInvalidInput.WithMessage("approval threshold must be at least 1")
	case t.DenyFloor < 1:
		return shared.ErrInvalidInput.WithMessage("deny floor must be at least 1")
	case t.ContestMinApprovals < 0 || t.ContestMinDenies < 0:
		return shared.ErrInvalidInput.WithMessage("contest minimums cannot be negative")
	case !t.SupermajorityRatio.IsPositive():
		return shared.ErrInvalidInput.WithMessage("supermajority ratio must be positive")
	case t.Quorum < 0:
		return shared.ErrInvalidInput.WithMessage("quorum cannot be negative")
	case t.EarlyApprovalThreshold < 0:
		return shared.ErrInvalidInput.WithMessage("early approval threshold cannot be negative")
	case t.ReviewWindow < 0:
		return shared.ErrInvalidInput.WithMessage("review window cannot be negative")
	}
	return nil
}

// Verdict is the result of a decision
type Verdict struct {
	Outcome Outcome
	Reason  string
}

// IsDecided reports whether the verdict leaves AWAITING
func (v Verdict) IsDecided() bool {
	return v.Outcome.IsDecided()
}

// Ballot is what a stage is decided on. The approval stage reads the net
// per-emoji reaction counts, so a staffer on both emoji shows up on both
// sides. Ratification reads the voter ledger.
type Ballot struct {
	Votes        VoteResults
	NetApprovals int
	NetDenies    int
}

// NewBallot reads both views of a review message
func NewBallot(snapshot MessageSnapshot, selfID string) Ballot {
	approvals, denies := NetCounts(snapshot)
	return Ballot{Votes: Tally(snapshot, selfID), NetApprovals: approvals, NetDenies: denies}
}

// Clock returns the current time
type Clock func() time.Time

// DecisionEngine turns a tally into a verdict. It holds no state besides its
// configuration and is safe for concurrent use.
type DecisionEngine struct {
	thresholds Thresholds
	now        Clock
}

// NewDecisionEngine creates a decision engine. A nil clock means time.Now.
func NewDecisionEngine(thresholds Thresholds, now Clock) *DecisionEngine {
	if now == nil {
		now = time.Now
	}
	return &DecisionEngine{thresholds: thresholds, now: now}
}

// Thresholds returns the engine's configuration
func (e *DecisionEngine) Thresholds() Thresholds {
	return e.thresholds
}

// Now returns the engine clock's current time
func (e *DecisionEngine) Now() time.Time {
	return e.now()
}

// Decide evaluates the ballot for the given stage.
// appliedAt anchors the ratification review window.
func (e *DecisionEngine) Decide(stage Stage, ballot Ballot, appliedAt time.Time) (Verdict, error) {
	switch stage {
	case StageApproval:
		return decideApproval(ballot.NetApprovals, ballot.NetDenies), nil
	case StageRatification:
		return e.decideRatification(ballot.Votes, appliedAt), nil
	}
	return Verdict{}, shared.ErrInvariantViolation.WithMessage(fmt.Sprintf("no decision rule for stage %q", stage))
}

// decideApproval: exactly one kind of reaction must be present to leave AWAITING.
// Mixed reactions wait for a human to clear them.
func decideApproval(approvals, denies int) Verdict {
	switch {
	case approvals > 0 && denies == 0:
		return Verdict{Outcome: OutcomeApproved, Reason: ReasonApprovalUnanimous}
	case denies > 0 && approvals == 0:
		return Verdict{Outcome: OutcomeDenied, Reason: ReasonApprovalRejected}
	case approvals > 0 && denies > 0:
		return Verdict{Outcome: OutcomeAwaiting, Reason: ReasonApprovalMixed}
	}
	return Verdict{Outcome: OutcomeAwaiting, Reason: ReasonApprovalEmpty}
}

func (e *DecisionEngine) decideRatification(votes VoteResults, appliedAt time.Time) Verdict {
	t := e.thresholds
	a, d := votes.Approvals, votes.Denies

	windowClosed := !e.now().Before(appliedAt.Add(t.ReviewWindow))
	earlyApprove := t.EarlyApprovalThreshold > 0 && a >= t.EarlyApprovalThreshold
	if !windowClosed && !earlyApprove && !e.supermajorityDeny(a, d) {
		return Verdict{Outcome: OutcomeAwaiting, Reason: ReasonWindowOpen}
	}

	// First match wins; the ranges overlap.
	switch {
	case a < t.ApprovalThreshold && d < t.DenyFloor:
		return Verdict{Outcome: OutcomeAwaiting, Reason: ReasonInsufficient}
	case e.supermajorityDeny(a, d):
		return Verdict{Outcome: OutcomeDenied, Reason: ReasonSupermajorityDeny}
	case a >= t.ContestMinApprovals && d >= t.ContestMinDenies:
		return Verdict{Outcome: OutcomeAwaiting, Reason: ReasonContested}
	case d >= t.DenyFloor && a < t.ApprovalThreshold:
		return Verdict{Outcome: OutcomeDenied, Reason: ReasonPlainDeny}
	case a >= t.ApprovalThreshold:
		return Verdict{Outcome: OutcomeApproved, Reason: ReasonPlainApprove}
	}
	return Verdict{Outcome: OutcomeAwaiting, Reason: ReasonUndecided}
}

func (e *DecisionEngine) supermajorityDeny(approvals, denies int) bool {
	if approvals+denies < e.thresholds.Quorum {
		return false
	}
	needed := decimal.NewFromInt(int64(approvals)).Mul(e.thresholds.SupermajorityRatio)
	return decimal.NewFromInt(int64(denies)).GreaterThanOrEqual(needed)
}
