package timeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Source loads the inputs of one project. Implementations must read items and
// edges from a single consistent snapshot.
type Source interface {
	TimelineInputs(ctx context.Context, projectID string) (Inputs, Options, error)
}

// Sink persists a computed timeline.
type Sink interface {
	SaveTimeline(ctx context.Context, t *Timeline, computedAt time.Time) error
}

// Service runs calculations for many projects and keeps the latest result of
// each in memory. Concurrent calculations of the same project race, but the
// save and the cache update happen under one per-project lock, so the Sink and
// Cached always end on the same result.
type Service struct {
	Source Source
	Sink   Sink
	Log    logrus.FieldLogger
	Now    func() time.Time

	cache sync.Map // project id -> *slot
}

type slot struct {
	mu     sync.Mutex
	latest atomic.Pointer[Timeline]
}

func NewService(src Source, sink Sink, log logrus.FieldLogger) *Service {
	return &Service{Source: src, Sink: sink, Log: log, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// Calculate loads the project's inputs once, computes its timeline, persists
// it through the Sink when one is set, and replaces the cached result.
func (s *Service) Calculate(ctx context.Context, projectID string) (*Timeline, error) {
	began := s.now()
	in, opts, err := s.Source.TimelineInputs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load timeline inputs: %w", err)
	}
	if in.ProjectID == "" {
		in.ProjectID = projectID
	}
	t := Compute(in, opts)
	if err := s.publish(ctx, projectID, t); err != nil {
		return nil, err
	}

	entry := s.log().WithFields(logrus.Fields{
		"project_id":   projectID,
		"items":        t.Summary.ItemCount,
		"dependencies": len(in.Dependencies),
		"resolved":     t.Summary.ResolvedCount,
		"blocked":      t.Summary.BlockedCount,
		"duration":     s.now().Sub(began).String(),
	})
	if t.Summary.BlockedCount > 0 {
		entry.Warn("timeline calculated with blocked items")
	} else {
		entry.Info("timeline calculated")
	}
	return t, nil
}

// Cached returns the last result computed by this service for the project.
func (s *Service) Cached(projectID string) (*Timeline, bool) {
	v, ok := s.cache.Load(projectID)
	if !ok {
		return nil, false
	}
	t := v.(*slot).latest.Load()
	return t, t != nil
}

// Forget drops the cached result of a project.
func (s *Service) Forget(projectID string) {
	s.cache.Delete(projectID)
}

// publish saves t and makes it the cached result as one step per project.
func (s *Service) publish(ctx context.Context, projectID string, t *Timeline) error {
	sl := s.slotFor(projectID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if s.Sink != nil {
		if err := s.Sink.SaveTimeline(ctx, t, s.now()); err != nil {
			return fmt.Errorf("save timeline: %w", err)
		}
	}
	sl.latest.Store(t)
	return nil
}

func (s *Service) slotFor(projectID string) *slot {
	v, _ := s.cache.LoadOrStore(projectID, new(slot))
	return v.(*slot)
}
