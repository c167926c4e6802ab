package database

import "strings"

// DefaultMessageLimit caps history reads when the caller passes no limit.
const DefaultMessageLimit = 50

const maxMessageLimit = 500

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// uniqueParticipants puts the creator first and drops blanks and repeats.
func uniqueParticipants(creator string, users []string) []string {
	seen := make(map[string]struct{}, len(users)+1)
	out := make([]string, 0, len(users)+1)
	for _, u := range append([]string{creator}, users...) {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultMessageLimit
	case limit > maxMessageLimit:
		return maxMessageLimit
	}
	return limit
}
