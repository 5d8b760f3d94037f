package consents

import (
	"strings"

	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
)

// Issue names one invalid field.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func validateTerms(t Terms) []Issue {
	var issues []Issue
	if !nonBlankList(t.DataTypes) {
		issues = append(issues, Issue{Field: "dataTypes", Message: "must be a non-empty list of non-blank strings"})
	}
	if !nonBlankList(t.Recipients) {
		issues = append(issues, Issue{Field: "recipients", Message: "must be a non-empty list of non-blank strings"})
	}
	if !nonBlankList(t.Purposes) {
		issues = append(issues, Issue{Field: "purposes", Message: "must be a non-empty list of non-blank strings"})
	}
	if t.ValidFromMs > t.ValidToMs {
		issues = append(issues, Issue{Field: "validity", Message: "validFromMs must not be after validToMs"})
	}
	return issues
}

func nonBlankList(values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

func validationError(issues []Issue) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid consent").WithDetails(map[string]any{"issues": issues})
}
