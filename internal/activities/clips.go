package activities

import (
	"context"
	"fmt"

	"highlightflow/internal/models"
	"highlightflow/internal/scoring"
)

// ListClipTargetsActivity returns recommended segments that have no clip yet,
// in rank order.
func (a *Activities) ListClipTargetsActivity(ctx context.Context, in ProjectInput) (ListClipTargetsOutput, error) {
	segs, err := a.segments.List(ctx, in.ProjectID)
	if err != nil {
		return ListClipTargetsOutput{}, toApplicationError(err)
	}
	out := ListClipTargetsOutput{SegmentIDs: []string{}}
	for _, s := range scoring.Rank(segs) {
		if s.Status == models.SegmentRecommended && s.ClipURI == "" {
			out.SegmentIDs = append(out.SegmentIDs, s.SegmentID)
		}
	}
	return out, nil
}

func (a *Activities) MaterializeClipActivity(ctx context.Context, in ClipInput) (ClipOutput, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return ClipOutput{}, toApplicationError(err)
	}
	s, err := a.segments.Get(ctx, in.SegmentID)
	if err != nil {
		return ClipOutput{}, toApplicationError(err)
	}
	if s.ProjectID != p.ProjectID {
		return ClipOutput{}, toApplicationError(fmt.Errorf("segment %s does not belong to project %s", s.SegmentID, p.ProjectID))
	}
	if s.ClipURI != "" {
		return ClipOutput{URI: s.ClipURI}, nil
	}
	uri, err := a.clips.Materialize(ctx, p, s)
	if err != nil {
		return ClipOutput{}, toApplicationError(err)
	}
	if err := a.segments.SetClip(ctx, s.SegmentID, uri); err != nil {
		return ClipOutput{}, toApplicationError(err)
	}
	return ClipOutput{URI: uri}, nil
}

func (a *Activities) MarkClipFailedActivity(ctx context.Context, in MarkClipFailedInput) error {
	if err := a.segments.MarkClipFailed(ctx, in.SegmentID, in.Message); err != nil {
		return toApplicationError(err)
	}
	a.logger.Warn().Str("segment_id", in.SegmentID).Str("error", in.Message).Msg("clip generation failed")
	return nil
}
