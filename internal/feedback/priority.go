package feedback

import "strings"

// Priority is a local triage hint. It is never sent to the backend.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var (
	urgentWords      = []string{"shoshilinch", "muhim", "zudlik", "tezkor", "срочно", "важно"}
	urgentCategories = []string{"Dekanat", "O'qituvchi", "Деканат", "Преподаватель"}
)

// PriorityOf rates a ticket: urgent words or categories are high, long texts
// are medium.
func PriorityOf(category, text string) Priority {
	lower := strings.ToLower(text)
	for _, w := range urgentWords {
		if strings.Contains(lower, w) {
			return PriorityHigh
		}
	}
	for _, c := range urgentCategories {
		if c == category {
			return PriorityHigh
		}
	}
	if len([]rune(text)) > 200 {
		return PriorityMedium
	}
	return PriorityLow
}
