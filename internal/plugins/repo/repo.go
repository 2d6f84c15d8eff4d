package repoplugin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

type repoPlugin struct{}

// New creates a new repository plugin.
func New() plugin.Plugin {
	return &repoPlugin{}
}

var _ plugin.Plugin = (*repoPlugin)(nil)

func (p *repoPlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "repo",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{},
		Description:  "Clones git repositories and hands them to their owning account.",
	}
}

func (p *repoPlugin) Schema() any {
	return config.RepoStep{}
}

type repoEvaluationData struct {
	RepoExists   bool
	IsGitRepo    bool
	ActualURL    string
	Destination  string
	CloneOptions *git.CloneOptions
}

func (p *repoPlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repoCfg, err := loadRepoConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if repoCfg.Owner != "" {
		if _, err := host.LookupUser(repoCfg.Owner); err != nil {
			return &model.EvaluationResult{
				StepID:       step.ID,
				CurrentState: model.StatusBlocked,
				Message:      fmt.Sprintf("owner account %q does not exist", repoCfg.Owner),
			}, nil
		}
	}

	dirExists := true
	if _, err := os.Stat(repoCfg.Destination); err != nil {
		if os.IsNotExist(err) {
			dirExists = false
		} else {
			return nil, plugin.NewStateError(step.ID, fmt.Errorf("cannot access destination: %w", err))
		}
	}

	isGitRepo := false
	var actualURL string

	if dirExists {
		if _, err := os.Stat(filepath.Join(repoCfg.Destination, ".git")); err == nil {
			repo, err := git.PlainOpen(repoCfg.Destination)
			if err == nil {
				isGitRepo = true
				remote, err := repo.Remote("origin")
				if err == nil && len(remote.Config().URLs) > 0 {
					actualURL = remote.Config().URLs[0]
				}
			}
		}
	}

	cloneOpts := &git.CloneOptions{URL: repoCfg.URL}
	if repoCfg.Depth > 0 {
		cloneOpts.Depth = repoCfg.Depth
	}
	if repoCfg.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(repoCfg.Branch)
		cloneOpts.SingleBranch = true
	}

	internalData := &repoEvaluationData{
		RepoExists:   dirExists,
		IsGitRepo:    isGitRepo,
		ActualURL:    actualURL,
		Destination:  repoCfg.Destination,
		CloneOptions: cloneOpts,
	}

	if !dirExists {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusMissing,
			RequiresAction: true,
			Message:        fmt.Sprintf("repository directory %s does not exist", repoCfg.Destination),
			Diff:           fmt.Sprintf("Would clone: %s", repoCfg.URL),
			InternalData:   internalData,
		}, nil
	}

	if !isGitRepo {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("directory %s exists but is not a git repository", repoCfg.Destination),
			Diff:           fmt.Sprintf("Would remove directory and clone: %s", repoCfg.URL),
			InternalData:   internalData,
		}, nil
	}

	if actualURL != "" && actualURL != repoCfg.URL {
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusDrifted,
			RequiresAction: true,
			Message:        fmt.Sprintf("remote URL is %s (expected %s)", actualURL, repoCfg.URL),
			Diff:           fmt.Sprintf("Would reclone with URL: %s", repoCfg.URL),
			InternalData:   internalData,
		}, nil
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   model.StatusSatisfied,
		RequiresAction: false,
		Message:        fmt.Sprintf("git repository exists at %s", repoCfg.Destination),
		InternalData:   internalData,
	}, nil
}

func (p *repoPlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	repoCfg, err := loadRepoConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *repoEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*repoEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*repoEvaluationData)
		if !ok || typed == nil {
			return &model.StepResult{
				StepID:  step.ID,
				Status:  model.StatusFailed,
				Message: "evaluation failed during apply",
				Error:   fmt.Errorf("evaluation result missing repository state"),
			}, plugin.NewExecutionError(step.ID, fmt.Errorf("evaluation failed during apply"))
		}
		data = typed
	}

	if !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "no changes needed",
		}, nil
	}

	if err := os.MkdirAll(filepath.Dir(repoCfg.Destination), 0o755); err != nil {
		return failed(step.ID, fmt.Errorf("failed to create destination directory: %w", err))
	}

	if data.RepoExists && !data.IsGitRepo {
		if err := os.RemoveAll(repoCfg.Destination); err != nil {
			return failed(step.ID, fmt.Errorf("failed to remove existing directory: %w", err))
		}
	}
	if data.RepoExists && data.IsGitRepo && data.ActualURL != repoCfg.URL {
		if err := os.RemoveAll(repoCfg.Destination); err != nil {
			return failed(step.ID, fmt.Errorf("failed to remove repository with wrong remote: %w", err))
		}
	}

	if _, err := git.PlainCloneContext(ctx, repoCfg.Destination, false, data.CloneOptions); err != nil {
		return failed(step.ID, fmt.Errorf("failed to clone repository: %w", err))
	}

	if repoCfg.Owner != "" {
		if err := chownTree(host, repoCfg.Destination, repoCfg.Owner); err != nil {
			return failed(step.ID, fmt.Errorf("cloned but failed to hand over to %s: %w", repoCfg.Owner, err))
		}
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("cloned %s", repoCfg.URL),
	}, nil
}

// chownTree recursively hands the clone to the owning account so the user can
// update it without privileges later.
func chownTree(host *hostinfo.Host, root, owner string) error {
	u, err := host.LookupUser(owner)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("invalid uid for %s: %w", owner, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("invalid gid for %s: %w", owner, err)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		return os.Lchown(path, uid, gid)
	})
}

func failed(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}

func loadRepoConfig(step *config.Step) (*config.RepoStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.Repo == nil {
		return nil, fmt.Errorf("repo configuration missing")
	}
	if step.Repo.URL == "" {
		return nil, fmt.Errorf("repo url is empty")
	}
	if step.Repo.Destination == "" {
		return nil, fmt.Errorf("repo destination is empty")
	}
	return step.Repo, nil
}
