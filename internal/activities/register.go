package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.LoadProjectActivity)
	w.RegisterActivity(a.ReserveBudgetActivity)
	w.RegisterActivity(a.BeginStageActivity)
	w.RegisterActivity(a.CommitStageActivity)
	w.RegisterActivity(a.PreprocessActivity)
	w.RegisterActivity(a.CoarseDetectActivity)
	w.RegisterActivity(a.RefineActivity)
	w.RegisterActivity(a.EmbedActivity)
	w.RegisterActivity(a.ScoreActivity)
	w.RegisterActivity(a.ListClipTargetsActivity)
	w.RegisterActivity(a.MaterializeClipActivity)
	w.RegisterActivity(a.MarkClipFailedActivity)
	w.RegisterActivity(a.FailProjectActivity)
	w.RegisterActivity(a.CompleteProjectActivity)
	w.RegisterActivity(a.ReleaseRunActivity)
	w.RegisterActivity(a.RecordCostActivity)
	w.RegisterActivity(a.WriteRunManifestActivity)
}
