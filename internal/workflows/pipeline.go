package workflows

import (
	"errors"
	"fmt"
	"time"

	"highlightflow/internal/activities"
	"highlightflow/internal/config"
	"highlightflow/internal/models"
	"highlightflow/internal/util"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetPipelineStatus = "GetPipelineStatus"

const (
	statusRunning = "running"
	statusReady   = "ready"
	statusFailed  = "failed"
)

// WorkflowID is the single workflow id per project, so at most one pipeline
// run per project is open at a time.
func WorkflowID(projectID string) string {
	return "pipeline-" + projectID
}

type stageRunner struct {
	activity string
	paid     bool
	timeout  func(config.StageTimeouts) int
	fallback int
}

var stageRunners = map[models.Stage]stageRunner{
	models.StagePreprocessing: {activity: "PreprocessActivity", timeout: func(t config.StageTimeouts) int { return t.Preprocessing }, fallback: 900},
	models.StageCoarseDetect:  {activity: "CoarseDetectActivity", paid: true, timeout: func(t config.StageTimeouts) int { return t.CoarseDetect }, fallback: 900},
	models.StageRefinement:    {activity: "RefineActivity", paid: true, timeout: func(t config.StageTimeouts) int { return t.Refinement }, fallback: 600},
	models.StageEmbedding:     {activity: "EmbedActivity", paid: true, timeout: func(t config.StageTimeouts) int { return t.Embedding }, fallback: 300},
	models.StageScoring:       {activity: "ScoreActivity", timeout: func(t config.StageTimeouts) int { return t.Scoring }, fallback: 60},
}

// HighlightPipelineWorkflow drives one project from its first uncommitted
// stage to ready. Stage failures fail the project and the workflow returns
// "failed" without an error; per-clip failures only mark the segment.
func HighlightPipelineWorkflow(ctx workflow.Context, input PipelineInput) (string, error) {
	status := PipelineStatus{
		ProjectID:  input.ProjectID,
		RunID:      input.RunID,
		Status:     statusRunning,
		Stages:     map[string]string{},
		StageCosts: map[string]float64{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetPipelineStatus, func() (PipelineStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}
	logger := workflow.GetLogger(ctx)

	bookkeeping := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	})

	defer func() {
		dctx, _ := workflow.NewDisconnectedContext(bookkeeping)
		var costOut activities.RecordCostOutput
		if err := workflow.ExecuteActivity(dctx, "RecordCostActivity", activities.ProjectInput{ProjectID: input.ProjectID}).Get(dctx, &costOut); err != nil {
			logger.Warn("record cost failed", "project_id", input.ProjectID, "error", err)
		} else {
			status.Cost = costOut.Cost
		}
		if err := workflow.ExecuteActivity(dctx, "ReleaseRunActivity", activities.ReleaseRunInput{ProjectID: input.ProjectID, RunID: input.RunID}).Get(dctx, nil); err != nil {
			logger.Warn("release run failed", "project_id", input.ProjectID, "error", err)
		}
	}()

	var loaded activities.LoadProjectOutput
	if err := workflow.ExecuteActivity(bookkeeping, "LoadProjectActivity", activities.ProjectInput{ProjectID: input.ProjectID}).Get(bookkeeping, &loaded); err != nil {
		return "", err
	}
	project := loaded.Project
	status.Cost = project.Cost
	switch project.Status {
	case models.ProjectReady:
		status.Status = statusReady
		status.Stage = string(models.StageDone)
		return statusReady, nil
	case models.ProjectFailed:
		status.Status = statusFailed
		status.Stage = string(models.StageFailed)
		status.ErrorKind = project.ErrorKind
		status.FailReason = project.ErrorMessage
		return statusFailed, nil
	}

	start := models.StagePreprocessing
	if project.LastCommittedStage.Index() >= 0 {
		start = project.LastCommittedStage.Next()
		for _, s := range models.Stages[:start.Index()] {
			status.Stages[string(s)] = "committed"
		}
	}

	fail := func(stage models.Stage, err error) (string, error) {
		kind := errorKind(err)
		msg := errorMessage(err)
		status.Status = statusFailed
		status.Stage = string(models.StageFailed)
		status.Stages[string(stage)] = "failed"
		status.ErrorKind = kind
		status.FailReason = msg
		if kind == util.KindBudgetExceeded {
			status.FailReason = "budget_exceeded"
		}
		if ferr := workflow.ExecuteActivity(bookkeeping, "FailProjectActivity", activities.FailProjectInput{
			ProjectID: input.ProjectID,
			Stage:     stage,
			Kind:      kind,
			Message:   status.FailReason,
		}).Get(bookkeeping, nil); ferr != nil {
			return "", ferr
		}
		return statusFailed, nil
	}

	for _, stage := range models.Stages[start.Index():] {
		if stage == models.StageClipGeneration || stage == models.StageDone {
			break
		}
		runner := stageRunners[stage]
		status.Stage = string(stage)
		status.Stages[string(stage)] = statusRunning

		if runner.paid {
			if err := workflow.ExecuteActivity(bookkeeping, "ReserveBudgetActivity", activities.ReserveBudgetInput{ProjectID: input.ProjectID, Stage: stage}).Get(bookkeeping, nil); err != nil {
				return fail(stage, err)
			}
		}
		if err := workflow.ExecuteActivity(bookkeeping, "BeginStageActivity", activities.StageInput{ProjectID: input.ProjectID, Stage: stage}).Get(bookkeeping, nil); err != nil {
			return "", err
		}

		stageCtx := workflow.WithActivityOptions(ctx, stageOptions(durationOrDefault(runner.timeout(input.Timeouts), runner.fallback), input.MaxAttempts))
		cost, degraded, err := runStage(stageCtx, runner.activity, input.ProjectID)
		if err != nil {
			return fail(stage, err)
		}
		if err := workflow.ExecuteActivity(bookkeeping, "CommitStageActivity", activities.CommitStageInput{ProjectID: input.ProjectID, Stage: stage, Cost: cost}).Get(bookkeeping, nil); err != nil {
			return "", err
		}
		status.Stages[string(stage)] = "committed"
		status.StageCosts[string(stage)] = cost
		status.Cost += cost
		for _, d := range degraded {
			status.Degraded = append(status.Degraded, string(stage)+": "+d)
		}
	}

	status.Stage = string(models.StageClipGeneration)
	status.Stages[string(models.StageClipGeneration)] = statusRunning
	if err := workflow.ExecuteActivity(bookkeeping, "BeginStageActivity", activities.StageInput{ProjectID: input.ProjectID, Stage: models.StageClipGeneration}).Get(bookkeeping, nil); err != nil {
		return "", err
	}
	if err := generateClips(ctx, bookkeeping, input, &status); err != nil {
		return fail(models.StageClipGeneration, err)
	}
	if err := workflow.ExecuteActivity(bookkeeping, "CompleteProjectActivity", activities.ProjectInput{ProjectID: input.ProjectID}).Get(bookkeeping, nil); err != nil {
		return "", err
	}
	status.Stages[string(models.StageClipGeneration)] = "committed"
	status.Stage = string(models.StageDone)
	status.Status = statusReady

	_ = workflow.ExecuteActivity(bookkeeping, "WriteRunManifestActivity", activities.WriteRunManifestInput{
		ProjectID: input.ProjectID,
		RunID:     input.RunID,
		Manifest: map[string]any{
			"project_id":   input.ProjectID,
			"run_id":       input.RunID,
			"resumed_from": string(start),
			"stages":       status.Stages,
			"stage_costs":  status.StageCosts,
			"degraded":     status.Degraded,
			"clips_total":  status.ClipsTotal,
			"clips_done":   status.ClipsDone,
			"clips_failed": status.ClipsFailed,
			"generated_at": workflow.Now(ctx),
		},
	}).Get(bookkeeping, nil)

	return statusReady, nil
}

func runStage(ctx workflow.Context, activity, projectID string) (float64, []string, error) {
	in := activities.ProjectInput{ProjectID: projectID}
	if activity == "ScoreActivity" {
		var out activities.ScoreOutput
		if err := workflow.ExecuteActivity(ctx, activity, in).Get(ctx, &out); err != nil {
			return 0, nil, err
		}
		var degraded []string
		if out.Pending > 0 {
			degraded = append(degraded, fmt.Sprintf("pending:%d", out.Pending))
		}
		return 0, degraded, nil
	}
	var out activities.StageResult
	if err := workflow.ExecuteActivity(ctx, activity, in).Get(ctx, &out); err != nil {
		return 0, nil, err
	}
	return out.Cost, out.Degraded, nil
}

// generateClips materializes recommended segments in bounded batches. A clip
// that still fails after its retries marks only its own segment.
func generateClips(ctx, bookkeeping workflow.Context, input PipelineInput, status *PipelineStatus) error {
	var targets activities.ListClipTargetsOutput
	if err := workflow.ExecuteActivity(bookkeeping, "ListClipTargetsActivity", activities.ProjectInput{ProjectID: input.ProjectID}).Get(bookkeeping, &targets); err != nil {
		return err
	}
	status.ClipsTotal = len(targets.SegmentIDs)

	clipCtx := workflow.WithActivityOptions(ctx, stageOptions(durationOrDefault(input.Timeouts.ClipPerItem, 300), input.MaxAttempts))
	batch := input.MaxConcurrentClips
	if batch <= 0 {
		batch = 3
	}
	ids := targets.SegmentIDs
	for i := 0; i < len(ids); i += batch {
		end := i + batch
		if end > len(ids) {
			end = len(ids)
		}
		futures := make([]workflow.Future, 0, end-i)
		for _, id := range ids[i:end] {
			futures = append(futures, workflow.ExecuteActivity(clipCtx, "MaterializeClipActivity", activities.ClipInput{ProjectID: input.ProjectID, SegmentID: id}))
		}
		for idx, f := range futures {
			id := ids[i+idx]
			if err := f.Get(ctx, nil); err != nil {
				status.ClipsFailed++
				if merr := workflow.ExecuteActivity(bookkeeping, "MarkClipFailedActivity", activities.MarkClipFailedInput{
					SegmentID: id,
					Message:   errorMessage(err),
				}).Get(bookkeeping, nil); merr != nil {
					return merr
				}
				continue
			}
			status.ClipsDone++
		}
	}
	return nil
}

func stageOptions(timeout time.Duration, maxAttempts int) workflow.ActivityOptions {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout:    timeout,
		ScheduleToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        int32(maxAttempts),
			NonRetryableErrorTypes: util.FatalKinds,
		},
	}
}

// errorKind recovers the kind an activity tagged its failure with.
func errorKind(err error) string {
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return util.KindStageTimeout
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}
	return util.KindInternal
}

func errorMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}

func durationOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
