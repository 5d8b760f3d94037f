// Package export seals bounded slices of the audit ledger for compliance handover.
package export

import (
	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// MaxRangeMs is the default widest window a single export may cover (31 days).
const MaxRangeMs int64 = 31 * 24 * 60 * 60 * 1000

// StatusCompleted is the only state an export ever has; jobs are sealed on creation.
const StatusCompleted = "completed"

// Job describes one sealed slice. Head and tail are nil when the slice is empty.
type Job struct {
	JobID         string     `json:"jobId"`
	RequesterRole enums.Role `json:"requesterRole"`
	FromMs        int64      `json:"fromMs"`
	ToMs          int64      `json:"toMs"`
	CreatedAtMs   int64      `json:"createdAtMs"`
	Status        string     `json:"status"`
	EventCount    int        `json:"eventCount"`
	HeadSeq       *int64     `json:"headSeq"`
	TailSeq       *int64     `json:"tailSeq"`
	HeadHash      *string    `json:"headHash"`
	TailHash      *string    `json:"tailHash"`
}

// Request carries the caller's bounds. Nil bounds fall back to the widest window ending now.
type Request struct {
	RequesterRole enums.Role
	FromMs        *int64
	ToMs          *int64
}

func cloneJob(j Job) Job {
	out := j
	out.HeadSeq = clonePtr(j.HeadSeq)
	out.TailSeq = clonePtr(j.TailSeq)
	out.HeadHash = clonePtr(j.HeadHash)
	out.TailHash = clonePtr(j.TailHash)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
