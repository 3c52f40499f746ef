package engine

import (
	"math"

	"engagement-engine/backend/pkg/models"
)

// ProgressPercentage returns the workflow completion percentage:
// round(100 × completed / total) over the given tasks. An empty task set
// yields 0, never a division error.
func ProgressPercentage(tasks []*models.TaskInstance) int {
	if len(tasks) == 0 {
		return 0
	}
	completed := 0
	for _, t := range tasks {
		if t.Status == models.TaskStatusCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(tasks))))
}
