package progress

import "strings"

// MatchPattern reports whether a subscription pattern covers a task id.
//
// Three forms exist: "*" matches everything, a trailing "*" matches by
// prefix, anything else matches exactly.
func MatchPattern(pattern, taskID string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(taskID, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == taskID
}
