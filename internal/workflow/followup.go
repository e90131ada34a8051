package workflow

import (
	"strings"
	"unicode"
)

// DefaultFollowupAction is used when a follow-up answers an empty action list.
const DefaultFollowupAction = "Continue"

var affirmations = map[string]bool{
	"yes": true, "no": true, "ok": true, "okay": true, "sure": true,
}

// isFollowupResponse reports whether text answers one of the pending
// actions, either by naming it or with a short yes/no/ok/sure.
func isFollowupResponse(text string, actions []string) bool {
	lower := strings.ToLower(text)
	for _, a := range actions {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return true
		}
	}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if affirmations[w] {
			return true
		}
	}
	return false
}

// extractFollowupAction returns the action named in text, else the first
// pending action, else DefaultFollowupAction.
func extractFollowupAction(text string, actions []string) string {
	lower := strings.ToLower(text)
	for _, a := range actions {
		if a != "" && strings.Contains(lower, strings.ToLower(a)) {
			return a
		}
	}
	if len(actions) > 0 {
		return actions[0]
	}
	return DefaultFollowupAction
}
