package aptrepo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hostprep/hostprep/internal/config"
	"github.com/hostprep/hostprep/internal/execx"
	"github.com/hostprep/hostprep/internal/hostinfo"
	"github.com/hostprep/hostprep/internal/model"
	"github.com/hostprep/hostprep/internal/plugin"
)

const sourcesDir = "/etc/apt/sources.list.d"

type aptRepoPlugin struct {
	client     *http.Client
	sourcesDir string
}

// New creates a new apt_repo plugin instance.
func New() plugin.Plugin {
	return &aptRepoPlugin{
		client:     &http.Client{Timeout: 30 * time.Second},
		sourcesDir: sourcesDir,
	}
}

var _ plugin.Plugin = (*aptRepoPlugin)(nil)

func (p *aptRepoPlugin) PluginMetadata() plugin.PluginMetadata {
	return plugin.PluginMetadata{
		Name:         "apt_repo",
		Version:      "1.0.0",
		APIVersion:   "1.x",
		Dependencies: []string{"package"},
		Description:  "Configures external apt repositories with signing keyrings.",
	}
}

func (p *aptRepoPlugin) Schema() any {
	return config.AptRepoStep{}
}

type aptRepoEvaluationData struct {
	RepoLine    string
	ListPath    string
	KeyringPath string
	HaveKeyring bool
	HaveList    bool
	Blocked     bool
	Stale       []string
}

func (p *aptRepoPlugin) Evaluate(ctx context.Context, host *hostinfo.Host, step *config.Step) (*model.EvaluationResult, error) {
	repoCfg, err := loadAptRepoConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	if !host.SupportsRelease(repoCfg.Distributions) {
		msg := fmt.Sprintf("%s has no build for %s %s", repoCfg.RepoName, host.DistroID, host.Codename)
		data := &aptRepoEvaluationData{
			ListPath:    p.listPath(repoCfg),
			KeyringPath: repoCfg.Keyring,
			Blocked:     true,
			Stale:       staleArtifacts(repoCfg, p.listPath(repoCfg)),
		}
		// Leftover keyring or list files from a previous release would keep
		// poisoning apt runs; apply removes them even though the repository
		// itself stays unconfigured.
		if len(data.Stale) > 0 {
			msg = fmt.Sprintf("%s; stale artifacts present: %s", msg, strings.Join(data.Stale, ", "))
		}
		return &model.EvaluationResult{
			StepID:         step.ID,
			CurrentState:   model.StatusBlocked,
			RequiresAction: len(data.Stale) > 0,
			Message:        msg,
			InternalData:   data,
		}, nil
	}

	listPath := p.listPath(repoCfg)
	repoLine := resolveRepoLine(repoCfg, host)

	data := &aptRepoEvaluationData{
		RepoLine:    repoLine,
		ListPath:    listPath,
		KeyringPath: repoCfg.Keyring,
	}

	if info, err := os.Stat(repoCfg.Keyring); err == nil && info.Size() > 0 {
		data.HaveKeyring = true
	}

	current, err := os.ReadFile(listPath)
	if err == nil {
		data.HaveList = strings.TrimSpace(string(current)) == repoLine
	}

	if data.HaveKeyring && data.HaveList {
		return &model.EvaluationResult{
			StepID:       step.ID,
			CurrentState: model.StatusSatisfied,
			Message:      fmt.Sprintf("repository %s already configured", repoCfg.RepoName),
			InternalData: data,
		}, nil
	}

	state := model.StatusMissing
	if data.HaveKeyring || data.HaveList || fileExists(listPath) {
		state = model.StatusDrifted
	}

	return &model.EvaluationResult{
		StepID:         step.ID,
		CurrentState:   state,
		RequiresAction: true,
		Message:        fmt.Sprintf("repository %s not configured for %s %s", repoCfg.RepoName, host.DistroID, host.Codename),
		Diff:           fmt.Sprintf("Would write %s:\n%s", listPath, repoLine),
		InternalData:   data,
	}, nil
}

func (p *aptRepoPlugin) Apply(ctx context.Context, host *hostinfo.Host, evalResult *model.EvaluationResult, step *config.Step) (*model.StepResult, error) {
	repoCfg, err := loadAptRepoConfig(step)
	if err != nil {
		return nil, plugin.NewValidationError(step.ID, err)
	}

	var data *aptRepoEvaluationData
	if evalResult != nil {
		if typed, ok := evalResult.InternalData.(*aptRepoEvaluationData); ok {
			data = typed
		}
	}
	if data == nil {
		evalResult, err = p.Evaluate(ctx, host, step)
		if err != nil {
			return nil, err
		}
		typed, ok := evalResult.InternalData.(*aptRepoEvaluationData)
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

	if data.Blocked {
		for _, path := range data.Stale {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return failed(step.ID, fmt.Errorf("failed to remove stale artifact %s: %w", path, err))
			}
		}
		msg := fmt.Sprintf("%s has no build for %s %s", repoCfg.RepoName, host.DistroID, host.Codename)
		if len(data.Stale) > 0 {
			msg = fmt.Sprintf("%s; removed stale artifacts: %s", msg, strings.Join(data.Stale, ", "))
		}
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusUnsupported,
			Message: msg,
		}, nil
	}

	if !evalResult.RequiresAction {
		return &model.StepResult{
			StepID:  step.ID,
			Status:  model.StatusSkipped,
			Message: "no changes needed",
		}, nil
	}

	// Track what this run creates so a failure can undo it. A repository
	// with a key but no list entry, or the other way around, would poison
	// every later apt run.
	var created []string
	cleanup := func() {
		for _, path := range created {
			_ = os.Remove(path)
		}
	}

	if !data.HaveKeyring {
		if err := p.installKeyring(ctx, repoCfg, &created); err != nil {
			cleanup()
			return failed(step.ID, fmt.Errorf("failed to install signing key for %s: %w", repoCfg.RepoName, err))
		}
	}

	if !data.HaveList {
		if err := writeFileAtomic(data.ListPath, []byte(data.RepoLine+"\n"), 0o644); err != nil {
			cleanup()
			return failed(step.ID, fmt.Errorf("failed to write %s: %w", data.ListPath, err))
		}
		created = append(created, data.ListPath)
	}

	if err := runAptUpdate(ctx); err != nil {
		cleanup()
		return failed(step.ID, fmt.Errorf("repository %s added but apt index refresh failed: %w", repoCfg.RepoName, err))
	}

	return &model.StepResult{
		StepID:  step.ID,
		Status:  model.StatusSuccess,
		Message: fmt.Sprintf("configured repository %s", repoCfg.RepoName),
	}, nil
}

func (p *aptRepoPlugin) listPath(cfg *config.AptRepoStep) string {
	return filepath.Join(p.sourcesDir, cfg.RepoName+".list")
}

// installKeyring downloads the signing key and stores it under the configured
// keyring path, dearmoring ASCII keys into the binary format apt expects.
func (p *aptRepoPlugin) installKeyring(ctx context.Context, cfg *config.AptRepoStep, created *[]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.KeyURL, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key download returned %s", resp.Status)
	}

	key, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(key) == 0 {
		return fmt.Errorf("key download returned an empty body")
	}

	if bytes.Contains(key[:min(len(key), 256)], []byte("BEGIN PGP PUBLIC KEY BLOCK")) {
		key, err = dearmor(ctx, key)
		if err != nil {
			return err
		}
	}

	if err := writeFileAtomic(cfg.Keyring, key, 0o644); err != nil {
		return err
	}
	*created = append(*created, cfg.Keyring)
	return nil
}

func dearmor(ctx context.Context, armored []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gpg", "--dearmor")
	cmd.Stdin = bytes.NewReader(armored)

	var out bytes.Buffer
	cmd.Stdout = &out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("gpg --dearmor failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("gpg --dearmor failed: %w", err)
	}
	return out.Bytes(), nil
}

// resolveRepoLine substitutes the {arch}, {codename} and {keyring}
// placeholders with host facts.
func resolveRepoLine(cfg *config.AptRepoStep, host *hostinfo.Host) string {
	line := cfg.RepoLine
	line = strings.ReplaceAll(line, "{arch}", host.Arch)
	line = strings.ReplaceAll(line, "{codename}", host.Codename)
	line = strings.ReplaceAll(line, "{keyring}", cfg.Keyring)
	return strings.TrimSpace(line)
}

func staleArtifacts(cfg *config.AptRepoStep, listPath string) []string {
	var stale []string
	if fileExists(cfg.Keyring) {
		stale = append(stale, cfg.Keyring)
	}
	if fileExists(listPath) {
		stale = append(stale, listPath)
	}
	return stale
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func runAptUpdate(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "apt-get", "update")
	cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	if res, err := execx.RunStreaming(cmd); err != nil {
		if out := execx.PrimaryOutput(res); out != "" {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}
	return nil
}

func failed(stepID string, err error) (*model.StepResult, error) {
	return &model.StepResult{
		StepID:  stepID,
		Status:  model.StatusFailed,
		Message: err.Error(),
		Error:   err,
	}, plugin.NewExecutionError(stepID, err)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".aptrepo-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func loadAptRepoConfig(step *config.Step) (*config.AptRepoStep, error) {
	if step == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if step.AptRepo == nil {
		return nil, fmt.Errorf("apt_repo configuration missing")
	}
	cfg := step.AptRepo
	if cfg.RepoName == "" || cfg.KeyURL == "" || cfg.Keyring == "" || cfg.RepoLine == "" {
		return nil, fmt.Errorf("apt_repo requires repo_name, key_url, keyring and repo_line")
	}
	if len(cfg.Distributions) == 0 {
		return nil, fmt.Errorf("apt_repo requires a distributions support matrix")
	}
	return cfg, nil
}
