package coordinate

// StepStatus is the lifecycle status of a single saga step.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepCompleted   StepStatus = "completed"
	StepFailed      StepStatus = "failed"
	StepCompensated StepStatus = "compensated"
)

// Step is one unit of a saga: an action paired with the compensation that
// semantically reverses it. Steps are owned exclusively by their run and
// are never shared across runs.
type Step struct {
	Name         string
	Action       Unit
	Compensation Unit

	status StepStatus
}

// NewStep constructs a step. A nil compensation means the step has no
// external effect to reverse and compensates as a no-op.
func NewStep(name string, action, compensation Unit) Step {
	if compensation == nil {
		compensation = NoOp()
	}
	return Step{
		Name:         name,
		Action:       action,
		Compensation: compensation,
		status:       StepPending,
	}
}

// Status returns the step's current status.
func (s *Step) Status() StepStatus {
	if s.status == "" {
		return StepPending
	}
	return s.status
}
