package domain

import "strings"

// NormalizeText trims leading/trailing whitespace and collapses internal whitespace runs.
// It is used for meetingPoint normalization.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
