package coordinate

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// TaskID identifies a task within one orchestration.
type TaskID string

// TaskStatus is the lifecycle status of an orchestrated task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"

	// TaskSkipped marks a task that was never started because a dependency
	// (direct or transitive) failed.
	TaskSkipped TaskStatus = "skipped"
)

// Task is one node of a dependency orchestration. The task runs only after
// every TaskID in DependsOn has completed.
type Task struct {
	ID        TaskID
	Action    Unit
	DependsOn mapset.Set[TaskID]
}

// NewTask constructs a task depending on the given prerequisites.
func NewTask(id TaskID, action Unit, deps ...TaskID) Task {
	return Task{
		ID:        id,
		Action:    action,
		DependsOn: mapset.NewSet(deps...),
	}
}

// TaskResult is the per-task entry in an orchestration outcome.
type TaskResult struct {
	Status TaskStatus
	Result Result
	Err    error
}
