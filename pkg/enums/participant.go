package enums

import "fmt"

// ParticipantStatus is the lifecycle state of a registered participant.
type ParticipantStatus string

const (
	ParticipantStatusActive    ParticipantStatus = "active"
	ParticipantStatusSuspended ParticipantStatus = "suspended"
)

// IsValid reports whether the value is a known ParticipantStatus.
func (s ParticipantStatus) IsValid() bool {
	return s == ParticipantStatusActive || s == ParticipantStatusSuspended
}

// TrustLevel is the coarse authorization tier of a participant.
type TrustLevel string

const (
	TrustLevelLow    TrustLevel = "low"
	TrustLevelMedium TrustLevel = "medium"
	TrustLevelHigh   TrustLevel = "high"
)

// IsValid reports whether the value is a known TrustLevel.
func (t TrustLevel) IsValid() bool {
	return t == TrustLevelLow || t == TrustLevelMedium || t == TrustLevelHigh
}

// Permits reports whether the tier is high enough for data requests to proceed.
func (t TrustLevel) Permits() bool {
	return t == TrustLevelMedium || t == TrustLevelHigh
}

// ParseTrustLevel converts raw input into a TrustLevel.
func ParseTrustLevel(value string) (TrustLevel, error) {
	t := TrustLevel(value)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid trust level %q", value)
	}
	return t, nil
}

// ParticipantAction names a recorded participant transition.
type ParticipantAction string

const (
	ParticipantActionRegister    ParticipantAction = "register"
	ParticipantActionActivate    ParticipantAction = "activate"
	ParticipantActionSuspend     ParticipantAction = "suspend"
	ParticipantActionResume      ParticipantAction = "resume"
	ParticipantActionTrustUpdate ParticipantAction = "trust-update"
)

// ConsentVersionKind records how a consent version came to be.
type ConsentVersionKind string

const (
	ConsentVersionRegister      ConsentVersionKind = "register"
	ConsentVersionUpdate        ConsentVersionKind = "update"
	ConsentVersionPartialRevoke ConsentVersionKind = "partial-revoke"
)
