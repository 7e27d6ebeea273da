package admission

// Outcome is the decision state of one review stage
type Outcome string

const (
	OutcomeAwaiting Outcome = "AWAITING"
	OutcomeApproved Outcome = "APPROVED"
	OutcomeDenied   Outcome = "DENIED"
)

// IsValid checks if the outcome is a known value
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeAwaiting, OutcomeApproved, OutcomeDenied:
		return true
	}
	return false
}

// IsDecided reports whether the outcome is terminal
func (o Outcome) IsDecided() bool {
	return o == OutcomeApproved || o == OutcomeDenied
}

// CanTransitionTo checks if the outcome can move to target.
// Outcomes only ever leave AWAITING, and only once.
func (o Outcome) CanTransitionTo(target Outcome) bool {
	return o == OutcomeAwaiting && target.IsDecided()
}

// String returns the string representation of Outcome
func (o Outcome) String() string {
	return string(o)
}

// ParseOutcome converts user input into an Outcome
func ParseOutcome(s string) (Outcome, bool) {
	switch Outcome(s) {
	case OutcomeAwaiting, OutcomeApproved, OutcomeDenied:
		return Outcome(s), true
	}
	switch s {
	case "awaiting":
		return OutcomeAwaiting, true
	case "approved", "approve":
		return OutcomeApproved, true
	case "denied", "deny":
		return OutcomeDenied, true
	}
	return "", false
}

// Stage identifies which vote an application is in
type Stage string

const (
	// StageApproval is the internal staff vote
	StageApproval Stage = "APPROVAL"
	// StageRatification is the public vote held after staff approval
	StageRatification Stage = "RATIFICATION"
	// StageClosed means both votes have been settled, or the application was denied
	StageClosed Stage = "CLOSED"
)

// String returns the string representation of Stage
func (s Stage) String() string {
	return string(s)
}

// VoteKind is a single voter's choice in the ledger
type VoteKind string

const (
	VoteApprove VoteKind = "APPROVE"
	VoteDeny    VoteKind = "DENY"
)
