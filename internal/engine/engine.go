// Package engine validates and applies every change to a workspace's budget
// projects and runs their timeline calculations. Both the CLI and the HTTP
// server go through it.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"budgetline/internal/config"
	"budgetline/internal/domain"
	"budgetline/internal/events"
	"budgetline/internal/repo"
	"budgetline/internal/timeline"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Log       logrus.FieldLogger
	Timelines *timeline.Service
	Now       func() time.Time
}

func New(db *sql.DB, log logrus.FieldLogger) Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Log:    log,
		Now:    time.Now,
	}
	st := store{repo: e.Repo, events: e.Events}
	e.Timelines = timeline.NewService(st, st, log)
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID(supplied string) string {
	if supplied != "" {
		return supplied
	}
	return uuid.NewString()
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	Description string
	// Config seeds the project configuration; nil uses the defaults.
	Config  *config.Config
	ActorID string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	p := domain.Project{
		ID:          newID(opts.ID),
		Kind:        config.ProjectKind,
		Status:      StatusActive,
		Description: opts.Description,
		CreatedAt:   e.stamp(),
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default(p.ID)
	}
	cfg.Project.ID = p.ID
	cfg.Project.Kind = config.ProjectKind
	if err := cfg.Validate(); err != nil {
		return domain.Project{}, &ValidationError{Field: "config", Message: err.Error()}
	}
	if _, err := e.Repo.GetProject(ctx, p.ID); err == nil {
		return domain.Project{}, fmt.Errorf("%w: project %s already exists", ErrConflict, p.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
			return fmt.Errorf("insert project config: %w", err)
		}
		return e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, opts.ActorID, events.Payload{"status": p.Status})
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.Log.WithField("project_id", p.ID).Info("project created")
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	projects, err := e.Repo.ListProjects(ctx)
	if projects == nil && err == nil {
		projects = []domain.Project{}
	}
	return projects, err
}

func (e Engine) UpdateProject(ctx context.Context, id, status string, description *string, actorID string) (domain.Project, error) {
	if status != "" && status != StatusActive && status != StatusArchived {
		return domain.Project{}, &ValidationError{Field: "status", Message: fmt.Sprintf("status must be %s or %s", StatusActive, StatusArchived)}
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateProjectTx(ctx, tx, id, status, description); err != nil {
			return err
		}
		payload := events.Payload{}
		if status != "" {
			payload["status"] = status
		}
		if description != nil {
			payload["description"] = *description
		}
		return e.Events.Append(ctx, tx, events.ProjectUpdated, id, "project", id, actorID, payload)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, id)
}

// DeleteProject removes a project with its items, edges, config and stored timeline.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteProjectTx(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProjectDeleted, id, "project", id, actorID, nil)
	})
	if err != nil {
		return err
	}
	e.Timelines.Forget(id)
	e.Log.WithField("project_id", id).Info("project deleted")
	return nil
}

func (e Engine) ProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return config.Default(projectID), nil
	}
	return cfg, err
}

// SetProjectConfig validates and replaces a project's configuration.
func (e Engine) SetProjectConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) (*config.Config, error) {
	if cfg == nil {
		return nil, &ValidationError{Field: "config", Message: "config is required"}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	cfg.Project.ID = projectID
	if cfg.Project.Kind == "" {
		cfg.Project.Kind = config.ProjectKind
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Field: "config", Message: err.Error()}
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProjectConfigured, projectID, "project", projectID, actorID, events.Payload{
			"baseline_period":  cfg.Timeline.BaselinePeriod,
			"periods_per_year": cfg.Timeline.PeriodsPerYear,
		})
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
