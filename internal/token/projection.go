package token

const (
	minutesPerToken = 6
	minimumWait     = 5
)

// EstimatedWaitMinutes is max(5, ahead*6).
func EstimatedWaitMinutes(ahead int) int {
	wait := ahead * minutesPerToken
	if wait < minimumWait {
		return minimumWait
	}
	return wait
}

// PendingCountByDepartment groups the pending tokens of centerID.
func PendingCountByDepartment(tokens []Token, centerID string) map[string]int {
	counts := make(map[string]int)
	for _, t := range tokens {
		if t.CenterID != centerID || t.Status != StatusPending {
			continue
		}
		counts[t.Department]++
	}
	return counts
}

// PendingCountByCenter groups all pending tokens by center.
func PendingCountByCenter(tokens []Token) map[string]int {
	counts := make(map[string]int)
	for _, t := range tokens {
		if t.Status == StatusPending {
			counts[t.CenterID]++
		}
	}
	return counts
}

// Position counts the pending tokens ahead of t in its own scope.
func Position(tokens []Token, t Token) int {
	ahead := 0
	for _, other := range tokens {
		if other.Status != StatusPending || other.Scope() != t.Scope() {
			continue
		}
		if other.TokenNumber < t.TokenNumber {
			ahead++
		}
	}
	return ahead
}

// Stats builds the QueueStats of centerID from tokens.
func Stats(tokens []Token, centerID string) QueueStats {
	counts := PendingCountByDepartment(tokens, centerID)
	total := 0
	for _, n := range counts {
		total += n
	}
	return QueueStats{
		CenterID:                 centerID,
		PendingCountByDepartment: counts,
		TotalPending:             total,
	}
}
