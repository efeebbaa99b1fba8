package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// Notifier is told about every job that reaches a terminal state.
type Notifier interface {
	Notify(ctx context.Context, payload models.WorkflowCompletionPayload) error
}

// WorkflowNotifier starts a Cloud Workflows execution with the job outcome as
// its argument.
type WorkflowNotifier struct {
	client *executions.Client
	parent string
}

// NewWorkflowNotifier targets projects/<project>/locations/<location>/workflows/<workflow>.
func NewWorkflowNotifier(client *executions.Client, projectID, location, workflowID string) *WorkflowNotifier {
	return &WorkflowNotifier{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

func (n *WorkflowNotifier) Notify(ctx context.Context, payload models.WorkflowCompletionPayload) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	if _, err := n.client.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}
