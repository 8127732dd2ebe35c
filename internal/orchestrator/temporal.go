package orchestrator

import (
	"context"
	"errors"

	"highlightflow/internal/workflows"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
)

// TemporalClient adapts a Temporal client to WorkflowClient.
type TemporalClient struct {
	client    tclient.Client
	taskQueue string
}

func NewTemporalClient(c tclient.Client, taskQueue string) *TemporalClient {
	return &TemporalClient{client: c, taskQueue: taskQueue}
}

func (t *TemporalClient) Start(ctx context.Context, workflowID string, in workflows.PipelineInput) (string, error) {
	we, err := t.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                t.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.HighlightPipelineWorkflow, in)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", ErrAlreadyStarted
		}
		return "", err
	}
	return we.GetRunID(), nil
}

func (t *TemporalClient) Query(ctx context.Context, workflowID string) (workflows.PipelineStatus, error) {
	resp, err := t.client.QueryWorkflow(ctx, workflowID, "", workflows.QueryGetPipelineStatus)
	if err != nil {
		return workflows.PipelineStatus{}, err
	}
	var status workflows.PipelineStatus
	if err := resp.Get(&status); err != nil {
		return workflows.PipelineStatus{}, err
	}
	return status, nil
}

// Running reports whether the latest execution for workflowID is still open.
func (t *TemporalClient) Running(ctx context.Context, workflowID string) (bool, error) {
	resp, err := t.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return resp.GetWorkflowExecutionInfo().GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, nil
}
