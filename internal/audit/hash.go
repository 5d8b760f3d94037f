package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// canonicalEvent pins the hashed field order. Struct fields marshal in declaration order and
// map keys inside Detail marshal sorted, so the encoding never depends on construction order.
type canonicalEvent struct {
	Seq         int64                 `json:"seq"`
	TimestampMs int64                 `json:"timestampMs"`
	ActorRole   enums.Role            `json:"actorRole"`
	Action      string                `json:"action"`
	TargetType  enums.AuditTargetType `json:"targetType"`
	TargetID    string                `json:"targetId"`
	Result      enums.AuditResult     `json:"result"`
	Detail      map[string]any        `json:"detail,omitempty"`
	PrevHash    string                `json:"prevHash"`
}

// CanonicalBytes returns the encoding that Hash is computed over. The event's own Hash is excluded.
func CanonicalBytes(e Event) ([]byte, error) {
	payload, err := json.Marshal(canonicalEvent{
		Seq:         e.Seq,
		TimestampMs: e.TimestampMs,
		ActorRole:   e.ActorRole,
		Action:      e.Action,
		TargetType:  e.TargetType,
		TargetID:    e.TargetID,
		Result:      e.Result,
		Detail:      e.Detail,
		PrevHash:    e.PrevHash,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding audit event %d: %w", e.Seq, err)
	}
	return payload, nil
}

// ComputeHash returns the lowercase hex SHA-256 of the event's canonical encoding.
func ComputeHash(e Event) (string, error) {
	payload, err := CanonicalBytes(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeDetail round-trips detail through JSON so the stored value hashes identically
// whether it is read back from memory or from a JSON column.
func normalizeDetail(detail map[string]any) (map[string]any, error) {
	if len(detail) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encoding audit detail: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding audit detail: %w", err)
	}
	return out, nil
}

func cloneEvent(e Event) Event {
	if e.Detail != nil {
		// normalized detail always re-encodes cleanly
		e.Detail, _ = normalizeDetail(e.Detail)
	}
	return e
}
