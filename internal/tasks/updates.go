package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	FetchMetadata Phase = iota
	FetchPages
	RefreshVariants
	Reconcile
)

func (p Phase) String() string {
	switch p {
	case FetchMetadata:
		return "fetch_metadata"
	case FetchPages:
		return "fetch_pages"
	case RefreshVariants:
		return "refresh_variants"
	case Reconcile:
		return "reconcile"
	default:
		return ""
	}
}

// sendProgress never blocks; updates are dropped when nobody is reading.
func sendProgress(prog chan<- ProgressUpdate, u ProgressUpdate) {
	if prog == nil {
		return
	}
	select {
	case prog <- u:
	default:
	}
}

func pageUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchPages,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Fetched page %d of %d", step, total),
	}
}

func variantUpdate(step, total int, key string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshVariants,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Refreshed cached view %d of %d", step, total),
		Data:    key,
	}
}

func metadataUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchMetadata,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Collection has %d item(s)", count),
		Data:    count,
	}
}

func reconcileUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Reconcile,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Baseline set to %d item(s)", count),
		Data:    count,
	}
}
