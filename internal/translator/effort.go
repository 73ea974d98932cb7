package translator

// Reasoning effort levels accepted by the Responses backend.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
	EffortXHigh  = "xhigh"
)

// ValidEffort reports whether e is a recognized effort level.
func ValidEffort(e string) bool {
	switch e {
	case EffortLow, EffortMedium, EffortHigh, EffortXHigh:
		return true
	}
	return false
}

// EffortFromBudget maps a thinking token budget to an effort level.
func EffortFromBudget(budget int64) string {
	switch {
	case budget < 2000:
		return EffortLow
	case budget < 8000:
		return EffortMedium
	case budget < 20000:
		return EffortHigh
	default:
		return EffortXHigh
	}
}

// ResolveEffort picks the protocol hint when valid, else the fallback.
func ResolveEffort(hint, fallback string) string {
	if ValidEffort(hint) {
		return hint
	}
	return fallback
}
