package automation

import "time"

// WorkflowStatus enumerates lifecycle states of a workflow definition.
type WorkflowStatus string

const (
	WorkflowActive   WorkflowStatus = "active"
	WorkflowPaused   WorkflowStatus = "paused"
	WorkflowArchived WorkflowStatus = "archived"
)

// Step is one action in a workflow definition. The action determines
// which config keys are meaningful; the server validates them.
type Step struct {
	Name   string         `json:"name"`
	Action string         `json:"action"`
	Config map[string]any `json:"config,omitempty"`
}

// Trigger describes what starts a workflow. Type is one of "event",
// "schedule", or "manual". Event triggers carry the event name; schedule
// triggers carry a cron expression.
type Trigger struct {
	Type     string `json:"type"`
	Event    string `json:"event,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// Workflow is an automation definition.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status"`
	Trigger     Trigger        `json:"trigger"`
	Steps       []Step         `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RunStatus enumerates execution states of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether the run has finished and will not change state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	}
	return false
}

// StepResult is the outcome of one step in a run.
type StepResult struct {
	Name       string         `json:"name"`
	Status     RunStatus      `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Run is one execution of a workflow.
type Run struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Status     RunStatus      `json:"status"`
	Input      map[string]any `json:"input,omitempty"`
	Steps      []StepResult   `json:"steps,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
