package audit

import (
	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// GenesisHash is the prevHash of the first event in a ledger.
const GenesisHash = "GENESIS"

// Well-known actions written by the ledger itself and by its main producers.
const (
	ActionIntegrityAlert = "audit.integrity-alert"
	ActionExport         = "audit.export"
	ActionAnchorConfirm  = "anchor.confirm"
	ActionAnchorRollback = "anchor.rollback"
	ActionRequestSubmit  = "request.submit"
)

// Event is an immutable, hash-chained ledger entry.
type Event struct {
	Seq         int64                 `json:"seq"`
	TimestampMs int64                 `json:"timestampMs"`
	ActorRole   enums.Role            `json:"actorRole"`
	Action      string                `json:"action"`
	TargetType  enums.AuditTargetType `json:"targetType"`
	TargetID    string                `json:"targetId"`
	Result      enums.AuditResult     `json:"result"`
	Detail      map[string]any        `json:"detail,omitempty"`
	PrevHash    string                `json:"prevHash"`
	Hash        string                `json:"hash"`
}

// RecordInput carries everything a caller decides about a new event. Seq, prevHash and hash
// are always assigned by the ledger.
type RecordInput struct {
	TimestampMs *int64
	ActorRole   enums.Role
	Action      string
	TargetType  enums.AuditTargetType
	TargetID    string
	Result      enums.AuditResult
	Detail      map[string]any
}

// Filter narrows Search. Nil or empty fields match everything; time bounds are inclusive.
type Filter struct {
	FromMs     *int64
	ToMs       *int64
	ActorRole  enums.Role
	TargetType enums.AuditTargetType
	TargetID   string
	Action     string
	Result     enums.AuditResult
}

// Matches reports whether e satisfies every set bound of f.
func (f Filter) Matches(e Event) bool {
	if f.FromMs != nil && e.TimestampMs < *f.FromMs {
		return false
	}
	if f.ToMs != nil && e.TimestampMs > *f.ToMs {
		return false
	}
	if f.ActorRole != "" && e.ActorRole != f.ActorRole {
		return false
	}
	if f.TargetType != "" && e.TargetType != f.TargetType {
		return false
	}
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	return true
}

// IssueReason classifies a chain verification discrepancy.
type IssueReason string

const (
	IssueSeqMismatch      IssueReason = "SEQ_MISMATCH"
	IssuePrevHashMismatch IssueReason = "PREV_HASH_MISMATCH"
	IssueHashMismatch     IssueReason = "HASH_MISMATCH"
)

// Issue is one discrepancy found by VerifyChain.
type Issue struct {
	Seq    int64       `json:"seq"`
	Reason IssueReason `json:"reason"`
}

// VerifyResult is the outcome of a full chain walk.
type VerifyResult struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues"`
}

// Stats summarizes the ledger for the ops dashboard.
type Stats struct {
	Total    int            `json:"total"`
	ByAction map[string]int `json:"byAction"`
	ByResult map[string]int `json:"byResult"`
	HeadSeq  int64          `json:"headSeq"`
	HeadHash string         `json:"headHash"`
}
