package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"engagement-engine/backend/pkg/models"
)

func tasksWithStatuses(statuses ...models.TaskStatus) []*models.TaskInstance {
	out := make([]*models.TaskInstance, len(statuses))
	for i, s := range statuses {
		out[i] = &models.TaskInstance{Status: s}
	}
	return out
}

func TestProgressPercentage(t *testing.T) {
	done := models.TaskStatusCompleted
	todo := models.TaskStatusNotStarted

	tests := []struct {
		name  string
		tasks []*models.TaskInstance
		want  int
	}{
		{"no tasks", nil, 0},
		{"none complete", tasksWithStatuses(todo, todo), 0},
		{"half complete", tasksWithStatuses(done, todo), 50},
		{"all complete", tasksWithStatuses(done, done, done), 100},
		{"one third rounds down", tasksWithStatuses(done, todo, todo), 33},
		{"two thirds rounds up", tasksWithStatuses(done, done, todo), 67},
		{"one of six", tasksWithStatuses(done, todo, todo, todo, todo, todo), 17},
		{"in-progress and blocked count as incomplete", tasksWithStatuses(done, models.TaskStatusInProgress, models.TaskStatusBlocked, todo), 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProgressPercentage(tt.tasks))
		})
	}
}
