// Package automation manages workflow definitions and their runs.
package automation

import (
	"context"
	"net/url"
	"time"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/transport"
)

const serviceName = "automation"

// Default polling cadence for WaitForRun.
const (
	defaultPollInterval = 2 * time.Second
	maxPollInterval     = 30 * time.Second
)

// Service is the client for the Tiation automation API.
type Service struct {
	client *transport.Client
}

// New creates an automation service backed by the transport client.
func New(client *transport.Client) *Service {
	return &Service{client: client}
}

// WorkflowPage is one page of workflow definitions.
type WorkflowPage struct {
	Workflows []Workflow `json:"workflows"`
	transport.PageInfo
}

// CreateWorkflowRequest describes a new workflow.
type CreateWorkflowRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Trigger     Trigger `json:"trigger"`
	Steps       []Step  `json:"steps"`
}

// UpdateWorkflowRequest carries a partial update. Nil fields are left
// unchanged by the server.
type UpdateWorkflowRequest struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Status      *WorkflowStatus `json:"status,omitempty"`
	Trigger     *Trigger        `json:"trigger,omitempty"`
	Steps       *[]Step         `json:"steps,omitempty"`
}

// CreateWorkflow registers a new workflow definition.
func (s *Service) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*Workflow, error) {
	if req.Name == "" {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "workflow name is required")
	}
	if len(req.Steps) == 0 {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "workflow needs at least one step")
	}

	var wf Workflow
	if err := s.client.Post(ctx, serviceName, "create_workflow", "automation/workflows", req, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// GetWorkflow fetches a single workflow definition.
func (s *Service) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	if err := s.client.Get(ctx, serviceName, "get_workflow", "automation/workflows/"+url.PathEscape(id), nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// ListWorkflows returns one page of workflow definitions.
func (s *Service) ListWorkflows(ctx context.Context, opts transport.ListOptions) (*WorkflowPage, error) {
	var page WorkflowPage
	if err := s.client.Get(ctx, serviceName, "list_workflows", "automation/workflows", opts.Query(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdateWorkflow applies a partial update to a workflow definition.
func (s *Service) UpdateWorkflow(ctx context.Context, id string, req UpdateWorkflowRequest) (*Workflow, error) {
	var wf Workflow
	if err := s.client.Patch(ctx, serviceName, "update_workflow", "automation/workflows/"+url.PathEscape(id), req, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// DeleteWorkflow removes a workflow definition. Runs already in flight
// finish; scheduled and event triggers stop firing.
func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	return s.client.Delete(ctx, serviceName, "delete_workflow", "automation/workflows/"+url.PathEscape(id))
}

// Trigger starts a manual run of the workflow with the given input.
func (s *Service) Trigger(ctx context.Context, workflowID string, input map[string]any) (*Run, error) {
	body := map[string]any{"input": input}
	var run Run
	if err := s.client.Post(ctx, serviceName, "trigger", "automation/workflows/"+url.PathEscape(workflowID)+"/runs", body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches the current state of a run.
func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.client.Get(ctx, serviceName, "get_run", "automation/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunPage is one page of runs for a workflow.
type RunPage struct {
	Runs []Run `json:"runs"`
	transport.PageInfo
}

// ListRuns returns one page of runs for a workflow, newest first.
func (s *Service) ListRuns(ctx context.Context, workflowID string, opts transport.ListOptions) (*RunPage, error) {
	var page RunPage
	if err := s.client.Get(ctx, serviceName, "list_runs", "automation/workflows/"+url.PathEscape(workflowID)+"/runs", opts.Query(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CancelRun asks the server to stop a run. Cancellation is best effort;
// the step currently executing may still complete.
func (s *Service) CancelRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.client.Post(ctx, serviceName, "cancel_run", "automation/runs/"+url.PathEscape(id)+"/cancel", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// WaitOptions tune WaitForRun polling.
type WaitOptions struct {
	// PollInterval is the initial poll cadence. Defaults to 2s, backing
	// off gently up to 30s between polls.
	PollInterval time.Duration
}

// WaitForRun polls until the run reaches a terminal state or the context
// is done. It returns the final run state; a failed run is not an error
// here, inspect Run.Status.
func (s *Service) WaitForRun(ctx context.Context, id string, opts WaitOptions) (*Run, error) {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, sdkerrors.Wrap(ctx.Err(), sdkerrors.ErrCodeTimeout, "waiting for run "+id)
		case <-timer.C:
		}

		interval = interval * 3 / 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}
