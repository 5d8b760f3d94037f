package enums

import "fmt"

// AuditResult is the outcome recorded on an audit event.
type AuditResult string

const (
	AuditResultOK    AuditResult = "ok"
	AuditResultError AuditResult = "error"
)

// IsValid reports whether the value is a known AuditResult.
func (r AuditResult) IsValid() bool {
	return r == AuditResultOK || r == AuditResultError
}

// ParseAuditResult converts raw input into an AuditResult.
func ParseAuditResult(value string) (AuditResult, error) {
	r := AuditResult(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid audit result %q", value)
	}
	return r, nil
}

// AuditTargetType names the kind of entity an audit event refers to.
type AuditTargetType string

const (
	AuditTargetParticipant AuditTargetType = "participant"
	AuditTargetConsent     AuditTargetType = "consent"
	AuditTargetRequest     AuditTargetType = "request"
	AuditTargetAudit       AuditTargetType = "audit"
)

var validAuditTargetTypes = []AuditTargetType{
	AuditTargetParticipant,
	AuditTargetConsent,
	AuditTargetRequest,
	AuditTargetAudit,
}

// IsValid reports whether the value is a known AuditTargetType.
func (t AuditTargetType) IsValid() bool {
	for _, candidate := range validAuditTargetTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAuditTargetType converts raw input into an AuditTargetType.
func ParseAuditTargetType(value string) (AuditTargetType, error) {
	for _, candidate := range validAuditTargetTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit target type %q", value)
}
