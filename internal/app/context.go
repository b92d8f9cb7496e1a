package app

import (
	"context"
	"errors"
	"fmt"

	"budgetline/internal/config"
	"budgetline/internal/engine"
	"budgetline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and returns its config.
// It prefers the override, then the only project in the workspace. An
// overridden project that does not exist yet is created with default config.
func ResolveProjectAndConfig(ctx context.Context, eng engine.Engine, projectOverride, actorID string) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		p, err := eng.Repo.SingleProject(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", nil, fmt.Errorf("no project in workspace; create one with budgetline project create")
			}
			return "", nil, fmt.Errorf("project not specified; use --project: %w", err)
		}
		projectID = p.ID
	}
	if _, err := eng.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{ID: projectID, ActorID: actorID}); err != nil {
			return "", nil, fmt.Errorf("create project %s: %w", projectID, err)
		}
	}
	cfg, err := eng.ProjectConfig(ctx, projectID)
	if err != nil {
		return "", nil, err
	}
	return projectID, cfg, nil
}
