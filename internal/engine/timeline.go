package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"budgetline/internal/events"
	"budgetline/internal/repo"
	"budgetline/internal/timeline"
)

type actorKey struct{}

func withActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFrom(ctx context.Context) string {
	v, _ := ctx.Value(actorKey{}).(string)
	return v
}

// store adapts the repository to the timeline service.
type store struct {
	repo   repo.Repo
	events events.Writer
}

func (s store) TimelineInputs(ctx context.Context, projectID string) (timeline.Inputs, timeline.Options, error) {
	in, err := s.repo.LoadTimelineInputs(ctx, projectID)
	if err != nil {
		return timeline.Inputs{}, timeline.Options{}, err
	}
	return timeline.Inputs{
		ProjectID:    projectID,
		Items:        in.Items,
		Dependencies: in.Dependencies,
	}, timeline.Options{Basis: in.Config.Basis()}, nil
}

// SaveTimeline persists the snapshot and its audit event together.
func (s store) SaveTimeline(ctx context.Context, t *timeline.Timeline, computedAt time.Time) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}
	tx, err := s.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.repo.SaveTimelineSnapshotTx(ctx, tx, repo.TimelineSnapshot{
		ProjectID:    t.ProjectID,
		TimelineJSON: string(data),
		ItemCount:    t.Summary.ItemCount,
		BlockedCount: t.Summary.BlockedCount,
		ComputedAt:   computedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	if err := s.events.Append(ctx, tx, events.TimelineCalculated, t.ProjectID, "project", t.ProjectID, actorFrom(ctx), events.Payload{
		"items":        t.Summary.ItemCount,
		"resolved":     t.Summary.ResolvedCount,
		"blocked":      t.Summary.BlockedCount,
		"total_amount": t.Summary.TotalAmount.StringFixed(2),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// CalculateTimeline recomputes a project's timeline from its current items
// and edges. Item-level failures are part of the result, not an error.
func (e Engine) CalculateTimeline(ctx context.Context, projectID, actorID string) (*timeline.Timeline, error) {
	return e.Timelines.Calculate(withActor(ctx, actorID), projectID)
}

// CachedTimeline returns the last calculated timeline, from memory when this
// process computed it and otherwise from the stored snapshot.
func (e Engine) CachedTimeline(ctx context.Context, projectID string) (*timeline.Timeline, error) {
	if t, ok := e.Timelines.Cached(projectID); ok {
		return t, nil
	}
	snap, err := e.Repo.GetTimelineSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var t timeline.Timeline
	if err := json.Unmarshal([]byte(snap.TimelineJSON), &t); err != nil {
		return nil, fmt.Errorf("decode stored timeline: %w", err)
	}
	return &t, nil
}

var _ interface {
	timeline.Source
	timeline.Sink
} = store{}
