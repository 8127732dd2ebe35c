package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"highlightflow/internal/config"
	"highlightflow/internal/models"
	"highlightflow/internal/scoring"
	"highlightflow/internal/storage"
	"highlightflow/internal/workflows"
)

type mockProjects struct {
	mock.Mock
}

func (m *mockProjects) Create(ctx context.Context, p models.Project) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockProjects) Get(ctx context.Context, id string) (models.Project, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Project), args.Error(1)
}

func (m *mockProjects) SetSource(ctx context.Context, id, key string) error {
	return m.Called(ctx, id, key).Error(0)
}

func (m *mockProjects) AcquireRun(ctx context.Context, id, runID string) (bool, error) {
	args := m.Called(ctx, id, runID)
	return args.Bool(0), args.Error(1)
}

func (m *mockProjects) ForceAcquireRun(ctx context.Context, id, stale, runID string) (bool, error) {
	args := m.Called(ctx, id, stale, runID)
	return args.Bool(0), args.Error(1)
}

func (m *mockProjects) AcquireFeedback(ctx context.Context, id, holder string) (bool, error) {
	args := m.Called(ctx, id, holder)
	return args.Bool(0), args.Error(1)
}

func (m *mockProjects) ReleaseRun(ctx context.Context, id, runID string) error {
	return m.Called(ctx, id, runID).Error(0)
}

type mockSegments struct {
	mock.Mock
}

func (m *mockSegments) List(ctx context.Context, id string) ([]models.Segment, error) {
	args := m.Called(ctx, id)
	segs, _ := args.Get(0).([]models.Segment)
	return segs, args.Error(1)
}

func (m *mockSegments) SaveScores(ctx context.Context, id string, segs []models.Segment) error {
	return m.Called(ctx, id, segs).Error(0)
}

type mockWorkflows struct {
	mock.Mock
}

func (m *mockWorkflows) Start(ctx context.Context, id string, in workflows.PipelineInput) (string, error) {
	args := m.Called(ctx, id, in)
	return args.String(0), args.Error(1)
}

func (m *mockWorkflows) Query(ctx context.Context, id string) (workflows.PipelineStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(workflows.PipelineStatus), args.Error(1)
}

func (m *mockWorkflows) Running(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, key string, r io.Reader) (string, error) {
	args := m.Called(ctx, key, r)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type fixture struct {
	projects *mockProjects
	segments *mockSegments
	wf       *mockWorkflows
	store    *mockStore
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{projects: &mockProjects{}, segments: &mockSegments{}, wf: &mockWorkflows{}, store: &mockStore{}}
	cfg := config.Config{DefaultTargetClips: 5, DefaultMinClipSecs: 5, DefaultMaxClipSecs: 60, MaxConcurrentClips: 3, MaxAttempts: 4}
	f.svc = New(cfg, config.DefaultTuning(), f.projects, f.segments, f.wf, f.store, zerolog.Nop())
	return f
}

func readyToRun() models.Project {
	return models.Project{ProjectID: "p1", OwnerID: "o1", SourceKey: "uploads/p1/source.mp4", Status: models.ProjectQueued, Stage: models.StagePreprocessing}
}

func TestStartPipelineAccepted(t *testing.T) {
	f := newFixture()
	f.projects.On("Get", mock.Anything, "p1").Return(readyToRun(), nil)
	f.projects.On("AcquireRun", mock.Anything, "p1", mock.AnythingOfType("string")).Return(true, nil)
	f.wf.On("Start", mock.Anything, "pipeline-p1", mock.MatchedBy(func(in workflows.PipelineInput) bool {
		return in.ProjectID == "p1" && in.RunID != "" && in.MaxConcurrentClips == 3 && in.MaxAttempts == 4 && in.Timeouts.Scoring == 60
	})).Return("temporal-run", nil)

	res, err := f.svc.StartPipeline(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, "pipeline-p1", res.WorkflowID)
	require.NotEmpty(t, res.RunID)
	f.wf.AssertExpectations(t)
}

func TestStartPipelineRejectsTerminalAndSourceless(t *testing.T) {
	f := newFixture()
	done := readyToRun()
	done.Status = models.ProjectReady
	f.projects.On("Get", mock.Anything, "done").Return(done, nil)
	empty := readyToRun()
	empty.SourceKey = ""
	f.projects.On("Get", mock.Anything, "empty").Return(empty, nil)

	res, err := f.svc.StartPipeline(context.Background(), "done")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Contains(t, res.Reason, "ready")

	res, err = f.svc.StartPipeline(context.Background(), "empty")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	f.projects.AssertNotCalled(t, "AcquireRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartPipelineRejectedWhileRunning(t *testing.T) {
	f := newFixture()
	held := readyToRun()
	held.RunID = "r-old"
	f.projects.On("Get", mock.Anything, "p1").Return(held, nil)
	f.projects.On("AcquireRun", mock.Anything, "p1", mock.Anything).Return(false, nil)
	f.wf.On("Running", mock.Anything, "pipeline-p1").Return(true, nil)

	res, err := f.svc.StartPipeline(context.Background(), "p1")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, "pipeline already running", res.Reason)
	f.projects.AssertNotCalled(t, "ForceAcquireRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.wf.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartPipelineTakesOverStaleMarker(t *testing.T) {
	f := newFixture()
	held := readyToRun()
	held.RunID = "r-old"
	held.LastCommittedStage = models.StageRefinement
	f.projects.On("Get", mock.Anything, "p1").Return(held, nil)
	f.projects.On("AcquireRun", mock.Anything, "p1", mock.Anything).Return(false, nil)
	f.wf.On("Running", mock.Anything, "pipeline-p1").Return(false, nil)
	f.projects.On("ForceAcquireRun", mock.Anything, "p1", "r-old", mock.Anything).Return(true, nil)
	f.wf.On("Start", mock.Anything, "pipeline-p1", mock.Anything).Return("temporal-run", nil)

	res, err := f.svc.StartPipeline(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, res.Accepted)
	f.projects.AssertExpectations(t)
}

func TestStartPipelineReleasesMarkerWhenStartFails(t *testing.T) {
	f := newFixture()
	f.projects.On("Get", mock.Anything, "p1").Return(readyToRun(), nil)
	f.projects.On("AcquireRun", mock.Anything, "p1", mock.Anything).Return(true, nil)
	f.wf.On("Start", mock.Anything, "pipeline-p1", mock.Anything).Return("", errors.New("frontend unavailable"))
	f.projects.On("ReleaseRun", mock.Anything, "p1", mock.Anything).Return(nil)

	_, err := f.svc.StartPipeline(context.Background(), "p1")
	require.Error(t, err)
	f.projects.AssertCalled(t, "ReleaseRun", mock.Anything, "p1", mock.Anything)
}

func TestGetStatusAttachesLiveProgress(t *testing.T) {
	f := newFixture()
	p := readyToRun()
	p.RunID = "r1"
	p.Stage = models.StageRefinement
	p.Status = models.ProjectAnalyzing
	p.Cost = 0.2
	f.projects.On("Get", mock.Anything, "p1").Return(p, nil)
	f.segments.On("List", mock.Anything, "p1").Return(nil, nil)
	f.wf.On("Query", mock.Anything, "pipeline-p1").Return(workflows.PipelineStatus{Stage: "refinement", Status: "running"}, nil)

	st, err := f.svc.GetStatus(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, st.Running)
	require.Equal(t, 0.2, st.Cost)
	require.NotNil(t, st.Live)
	require.Equal(t, "refinement", st.Live.Stage)
	require.Empty(t, st.Segments)
	require.NotNil(t, st.Segments)
}

func TestGetStatusFallsBackWhenQueryFails(t *testing.T) {
	f := newFixture()
	p := readyToRun()
	p.RunID = "r1"
	f.projects.On("Get", mock.Anything, "p1").Return(p, nil)
	f.segments.On("List", mock.Anything, "p1").Return([]models.Segment{
		{SegmentID: "b", StartTime: 20, EndTime: 30, FinalScore: models.Float(50)},
		{SegmentID: "a", StartTime: 0, EndTime: 10, FinalScore: models.Float(80)},
	}, nil)
	f.wf.On("Query", mock.Anything, "pipeline-p1").Return(workflows.PipelineStatus{}, errors.New("no poller"))

	st, err := f.svc.GetStatus(context.Background(), "p1")
	require.NoError(t, err)
	require.Nil(t, st.Live)
	require.Equal(t, "a", st.Segments[0].SegmentID)
}

func feedbackHolder() any {
	return mock.MatchedBy(func(h string) bool { return strings.HasPrefix(h, storage.FeedbackMarkerPrefix) })
}

func scoredSegments() []models.Segment {
	return []models.Segment{
		{SegmentID: "a", ProjectID: "p1", StartTime: 0, EndTime: 10, RefinedScore: models.Float(72), Status: models.SegmentRecommended},
		{SegmentID: "b", ProjectID: "p1", StartTime: 20, EndTime: 30, RefinedScore: models.Float(40), Status: models.SegmentRejected},
	}
}

func TestSubmitFeedbackRebalances(t *testing.T) {
	f := newFixture()
	p := readyToRun()
	p.Status = models.ProjectReady
	p.Config.TargetClipCount = 1
	f.projects.On("Get", mock.Anything, "p1").Return(p, nil)
	f.projects.On("AcquireFeedback", mock.Anything, "p1", feedbackHolder()).Return(true, nil)
	f.projects.On("ReleaseRun", mock.Anything, "p1", feedbackHolder()).Return(nil)
	f.segments.On("List", mock.Anything, "p1").Return(scoredSegments(), nil)
	f.segments.On("SaveScores", mock.Anything, "p1", mock.Anything).Return(nil)

	res, err := f.svc.SubmitFeedback(context.Background(), "p1", []models.FeedbackItem{{SegmentID: "b", Verdict: models.VerdictAccept}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)
	require.Equal(t, 1, res.Recommended)
	// 40 + 15 = 55 stays below a's 72, so a keeps the only slot.
	require.Equal(t, "a", res.Segments[0].SegmentID)
	require.Equal(t, 55.0, *res.Segments[1].FinalScore)
	f.segments.AssertNumberOfCalls(t, "SaveScores", 1)
	f.projects.AssertNumberOfCalls(t, "ReleaseRun", 1)
}

func TestSubmitFeedbackHoldsMarkerForRebalance(t *testing.T) {
	f := newFixture()
	p := readyToRun()
	p.Status = models.ProjectReady
	f.projects.On("Get", mock.Anything, "p1").Return(p, nil)
	// A pipeline start took the marker between the read and the rebalance.
	f.projects.On("AcquireFeedback", mock.Anything, "p1", feedbackHolder()).Return(false, nil).Once()

	_, err := f.svc.SubmitFeedback(context.Background(), "p1", []models.FeedbackItem{{SegmentID: "b", Verdict: models.VerdictAccept}})
	require.ErrorIs(t, err, ErrRunInProgress)
	f.segments.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
	f.segments.AssertNotCalled(t, "SaveScores", mock.Anything, mock.Anything, mock.Anything)
	f.projects.AssertNotCalled(t, "ReleaseRun", mock.Anything, mock.Anything, mock.Anything)

	var held string
	f.projects.On("AcquireFeedback", mock.Anything, "p1", feedbackHolder()).Run(func(args mock.Arguments) {
		held = args.String(2)
	}).Return(true, nil)
	f.projects.On("ReleaseRun", mock.Anything, "p1", feedbackHolder()).Return(nil)
	f.segments.On("List", mock.Anything, "p1").Return(nil, errors.New("connection reset"))

	_, err = f.svc.SubmitFeedback(context.Background(), "p1", []models.FeedbackItem{{SegmentID: "b", Verdict: models.VerdictAccept}})
	require.Error(t, err)
	f.projects.AssertCalled(t, "ReleaseRun", mock.Anything, "p1", held)
}

func TestStartPipelineDoesNotTakeOverFeedbackMarker(t *testing.T) {
	f := newFixture()
	p := readyToRun()
	p.RunID = storage.FeedbackMarkerPrefix + "x"
	f.projects.On("Get", mock.Anything, "p1").Return(p, nil)
	f.projects.On("AcquireRun", mock.Anything, "p1", mock.Anything).Return(false, nil)

	res, err := f.svc.StartPipeline(context.Background(), "p1")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	f.wf.AssertNotCalled(t, "Running", mock.Anything, mock.Anything)
	f.projects.AssertNotCalled(t, "ForceAcquireRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitFeedbackRepeatIsNoop(t *testing.T) {
	f := newFixture()
	p := readyToRun()
	p.Status = models.ProjectReady
	segs := scoredSegments()
	segs[1].FeedbackVerdict = models.VerdictAccept
	segs[1].FeedbackAdjustment = 15
	f.projects.On("Get", mock.Anything, "p1").Return(p, nil)
	f.projects.On("AcquireFeedback", mock.Anything, "p1", feedbackHolder()).Return(true, nil)
	f.projects.On("ReleaseRun", mock.Anything, "p1", feedbackHolder()).Return(nil)
	f.segments.On("List", mock.Anything, "p1").Return(segs, nil)

	res, err := f.svc.SubmitFeedback(context.Background(), "p1", []models.FeedbackItem{{SegmentID: "b", Verdict: models.VerdictAccept}})
	require.NoError(t, err)
	require.Zero(t, res.Applied)
	f.segments.AssertNotCalled(t, "SaveScores", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitFeedbackRejections(t *testing.T) {
	f := newFixture()
	running := readyToRun()
	running.RunID = "r1"
	f.projects.On("Get", mock.Anything, "busy").Return(running, nil)
	idle := readyToRun()
	idle.Status = models.ProjectReady
	f.projects.On("Get", mock.Anything, "p1").Return(idle, nil)
	f.projects.On("AcquireFeedback", mock.Anything, "p1", feedbackHolder()).Return(true, nil)
	f.projects.On("ReleaseRun", mock.Anything, "p1", feedbackHolder()).Return(nil)
	f.segments.On("List", mock.Anything, "p1").Return(scoredSegments(), nil)

	_, err := f.svc.SubmitFeedback(context.Background(), "busy", []models.FeedbackItem{{SegmentID: "a", Verdict: models.VerdictReject}})
	require.ErrorIs(t, err, ErrRunInProgress)

	_, err = f.svc.SubmitFeedback(context.Background(), "p1", []models.FeedbackItem{{SegmentID: "zzz", Verdict: models.VerdictReject}})
	require.ErrorIs(t, err, ErrInvalidFeedback)
	require.ErrorIs(t, err, scoring.ErrUnknownSegment)

	_, err = f.svc.SubmitFeedback(context.Background(), "p1", []models.FeedbackItem{{SegmentID: "a", Verdict: "meh"}})
	require.ErrorIs(t, err, ErrInvalidFeedback)

	_, err = f.svc.SubmitFeedback(context.Background(), "p1", nil)
	require.ErrorIs(t, err, ErrInvalidFeedback)
}

func TestCreateProjectAppliesDefaults(t *testing.T) {
	f := newFixture()
	f.projects.On("Create", mock.Anything, mock.MatchedBy(func(p models.Project) bool {
		return p.OwnerID == "o1" && p.ContentType == "gaming" && p.Config.TargetClipCount == 5 && p.Config.MaxClipSeconds == 60 && p.Status == models.ProjectQueued
	})).Return(nil)
	f.projects.On("Get", mock.Anything, mock.AnythingOfType("string")).Return(models.Project{ProjectID: "new", OwnerID: "o1"}, nil)

	p, err := f.svc.CreateProject(context.Background(), CreateProjectInput{OwnerID: "o1", ContentType: " Gaming "})
	require.NoError(t, err)
	require.Equal(t, "new", p.ProjectID)

	_, err = f.svc.CreateProject(context.Background(), CreateProjectInput{})
	require.ErrorIs(t, err, ErrInvalidProject)
}

func TestAttachSourceUploadsUnderProjectKey(t *testing.T) {
	f := newFixture()
	p := readyToRun()
	p.SourceKey = ""
	f.projects.On("Get", mock.Anything, "p1").Return(p, nil)
	f.store.On("Upload", mock.Anything, "uploads/p1/source.mov", mock.Anything).Return("file:///objects/uploads/p1/source.mov", nil)
	f.projects.On("SetSource", mock.Anything, "p1", "uploads/p1/source.mov").Return(nil)

	key, err := f.svc.AttachSource(context.Background(), "p1", "Match Day.MOV", strings.NewReader("video"))
	require.NoError(t, err)
	require.Equal(t, "uploads/p1/source.mov", key)

	f.projects.On("Get", mock.Anything, "missing").Return(models.Project{}, storage.ErrNotFound)
	_, err = f.svc.AttachSource(context.Background(), "missing", "a.mp4", strings.NewReader("x"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}
