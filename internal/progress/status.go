package progress

// CalculatePercent rounds 100*completed/total half up. A training without content is 0%.
//
// Partial completion stays within [1, 99] so that 100% always means every item is done
// and 0% always means nothing is.
func CalculatePercent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	percent := (200*completed + total) / (2 * total)
	switch {
	case percent < 1:
		return 1
	case percent > 99:
		return 99
	}
	return percent
}

// DeriveStatus is the only place a status is decided.
// It relies on CalculatePercent keeping partial completion within [1, 99], so 99 is the ceiling below ReadyForQuiz.
func DeriveStatus(percent int, scored bool) Status {
	switch {
	case scored:
		return StatusCompleted
	case percent >= 100:
		return StatusReadyForQuiz
	case percent > 0:
		return StatusInProgress
	}
	return StatusNotStarted
}
