package config

import (
	"gopkg.in/yaml.v3"
)

// Config represents a full hostprep provisioning profile.
type Config struct {
	Version     string       `yaml:"version" validate:"required,semver"`
	Name        string       `yaml:"name" validate:"required,min=1,max=100"`
	Description string       `yaml:"description,omitempty"`
	Settings    Settings     `yaml:"settings,omitempty"`
	Steps       []Step       `yaml:"steps" validate:"required,min=1,dive"`
	Validations []Validation `yaml:"validations,omitempty" validate:"omitempty,dive"`
}

// Settings holds global execution parameters. Execution is strictly
// sequential; there is deliberately no parallelism knob.
type Settings struct {
	Timeout         int   `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=360000"`
	ContinueOnError *bool `yaml:"continue_on_error,omitempty"`
	DryRun          bool  `yaml:"dry_run,omitempty"`
	Verbose         bool  `yaml:"verbose,omitempty"`
}

// WantContinueOnError resolves the failure policy. Directive failures are
// non-fatal unless the profile opts out explicitly.
func (s Settings) WantContinueOnError() bool {
	if s.ContinueOnError != nil {
		return *s.ContinueOnError
	}
	return true
}

// Step describes one resource directive: the desired end-state of a single
// system resource plus its position in the dependency order.
type Step struct {
	ID        string   `yaml:"id" validate:"required,step_id"`
	Name      string   `yaml:"name,omitempty"`
	Type      string   `yaml:"type" validate:"required"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Enabled   bool     `yaml:"enabled,omitempty"`

	Package    *PackageStep    `yaml:",inline,omitempty"`
	Service    *ServiceStep    `yaml:",inline,omitempty"`
	Conffile   *ConffileStep   `yaml:",inline,omitempty"`
	Firewall   *FirewallStep   `yaml:",inline,omitempty"`
	AptRepo    *AptRepoStep    `yaml:",inline,omitempty"`
	Repo       *RepoStep       `yaml:",inline,omitempty"`
	User       *UserStep       `yaml:",inline,omitempty"`
	Swap       *SwapStep       `yaml:",inline,omitempty"`
	LineInFile *LineInFileStep `yaml:",inline,omitempty"`
	Tool       *ToolStep       `yaml:",inline,omitempty"`
	Command    *CommandStep    `yaml:",inline,omitempty"`
}

// UnmarshalYAML customises step decoding to populate the type-specific payload
// without yaml inline conflicts.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type baseStep struct {
		ID        string   `yaml:"id"`
		Name      string   `yaml:"name"`
		Type      string   `yaml:"type"`
		DependsOn []string `yaml:"depends_on"`
		Enabled   *bool    `yaml:"enabled"`
	}

	var base baseStep
	if err := value.Decode(&base); err != nil {
		return err
	}

	s.ID = base.ID
	s.Name = base.Name
	s.Type = base.Type
	s.DependsOn = append([]string(nil), base.DependsOn...)
	if base.Enabled != nil {
		s.Enabled = *base.Enabled
	} else {
		s.Enabled = true
	}

	s.Package = nil
	s.Service = nil
	s.Conffile = nil
	s.Firewall = nil
	s.AptRepo = nil
	s.Repo = nil
	s.User = nil
	s.Swap = nil
	s.LineInFile = nil
	s.Tool = nil
	s.Command = nil

	switch base.Type {
	case "package":
		var pkg PackageStep
		if err := value.Decode(&pkg); err != nil {
			return err
		}
		s.Package = &pkg
	case "service":
		var svc ServiceStep
		if err := value.Decode(&svc); err != nil {
			return err
		}
		s.Service = &svc
	case "conffile":
		var cf ConffileStep
		if err := value.Decode(&cf); err != nil {
			return err
		}
		s.Conffile = &cf
	case "firewall":
		var fw FirewallStep
		if err := value.Decode(&fw); err != nil {
			return err
		}
		s.Firewall = &fw
	case "apt_repo":
		var ar AptRepoStep
		if err := value.Decode(&ar); err != nil {
			return err
		}
		s.AptRepo = &ar
	case "repo":
		var repo RepoStep
		if err := value.Decode(&repo); err != nil {
			return err
		}
		s.Repo = &repo
	case "user":
		var usr UserStep
		if err := value.Decode(&usr); err != nil {
			return err
		}
		s.User = &usr
	case "swap":
		var swap SwapStep
		if err := value.Decode(&swap); err != nil {
			return err
		}
		s.Swap = &swap
	case "line_in_file":
		var lif LineInFileStep
		if err := value.Decode(&lif); err != nil {
			return err
		}
		s.LineInFile = &lif
	case "tool":
		var tool ToolStep
		if err := value.Decode(&tool); err != nil {
			return err
		}
		s.Tool = &tool
	case "command":
		var cmd CommandStep
		if err := value.Decode(&cmd); err != nil {
			return err
		}
		s.Command = &cmd
	}

	return nil
}

// PackageStep installs one or more apt packages in a single batch. A package
// with no installation candidate in the configured repositories is reported
// unsupported rather than failed.
type PackageStep struct {
	Packages []string `yaml:"packages" validate:"required,min=1,dive,min=1,max=100"`
	Update   bool     `yaml:"update,omitempty"`
}

// ServiceStep converges a systemd unit to a desired run/boot state. The
// ensure-stopped variant is used to leave database servers off after
// installation.
type ServiceStep struct {
	Service string `yaml:"service" validate:"required"`
	State   string `yaml:"state" validate:"required,oneof=running stopped"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// WantEnabled resolves the desired boot-enablement bit. When not set
// explicitly it follows the desired run state.
func (s *ServiceStep) WantEnabled() bool {
	if s.Enabled != nil {
		return *s.Enabled
	}
	return s.State == "running"
}

// ConffileStep manages a file whose desired content is known byte-for-byte
// (sysctl drop-ins, database tuning overrides). Reload is an optional shell
// command run after the file is (re)written.
type ConffileStep struct {
	Path    string `yaml:"path" validate:"required"`
	Content string `yaml:"content" validate:"required"`
	Mode    string `yaml:"mode,omitempty" validate:"omitempty,file_mode"`
	Reload  string `yaml:"reload,omitempty"`
}

// FirewallSourceRule permits one source address to reach one port.
type FirewallSourceRule struct {
	From string `yaml:"from" validate:"required,ip"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

// FirewallPortRule opens one port to any source.
type FirewallPortRule struct {
	Port  int    `yaml:"port" validate:"required,min=1,max=65535"`
	Proto string `yaml:"proto,omitempty" validate:"omitempty,oneof=tcp udp"`
}

// FirewallStep converges ufw onto default policies plus a fixed rule set.
// Rule re-addition is safe: ufw ignores duplicate adds.
type FirewallStep struct {
	DefaultIncoming string               `yaml:"default_incoming,omitempty" validate:"omitempty,oneof=allow deny reject"`
	DefaultOutgoing string               `yaml:"default_outgoing,omitempty" validate:"omitempty,oneof=allow deny reject"`
	AllowFrom       []FirewallSourceRule `yaml:"allow_from,omitempty" validate:"omitempty,dive"`
	AllowPorts      []FirewallPortRule   `yaml:"allow_ports,omitempty" validate:"omitempty,dive"`
}

// AptRepoStep configures an external apt repository: signing keyring plus a
// sources.list.d entry. The step is gated on the host's distro/codename
// appearing in Distributions; unsupported hosts are skipped and any partial
// artifacts removed.
type AptRepoStep struct {
	RepoName string              `yaml:"repo_name" validate:"required"`
	KeyURL   string              `yaml:"key_url" validate:"required,url"`
	Keyring  string              `yaml:"keyring" validate:"required"`
	// RepoLine is the sources.list entry with {arch}, {codename} and
	// {keyring} placeholders resolved at evaluation time.
	RepoLine      string              `yaml:"repo_line" validate:"required"`
	Distributions map[string][]string `yaml:"distributions" validate:"required,min=1"`
}

// RepoStep clones a git repository. Owner optionally hands the clone to a
// local account (shell framework clones live in the user's home).
type RepoStep struct {
	URL         string `yaml:"url" validate:"required,url"`
	Destination string `yaml:"destination" validate:"required"`
	Branch      string `yaml:"branch,omitempty"`
	Depth       int    `yaml:"depth,omitempty" validate:"omitempty,min=0"`
	Owner       string `yaml:"owner,omitempty"`
}

// UserStep ensures a local account exists with the desired login shell and
// group memberships. Groups are additive: existing memberships are never
// removed.
type UserStep struct {
	Username   string   `yaml:"username" validate:"required"`
	Shell      string   `yaml:"shell,omitempty"`
	Groups     []string `yaml:"groups,omitempty" validate:"omitempty,dive,min=1"`
	CreateHome bool     `yaml:"create_home,omitempty"`
}

// SwapStep provisions a swap file and its fstab entry.
type SwapStep struct {
	Path  string `yaml:"path" validate:"required"`
	Size  string `yaml:"size" validate:"required,byte_size"`
	Fstab string `yaml:"fstab,omitempty"`
}

// FstabPath returns the fstab file the entry is appended to.
func (s *SwapStep) FstabPath() string {
	if s.Fstab != "" {
		return s.Fstab
	}
	return "/etc/fstab"
}

// LineInFileStep ensures a line is present in (or absent from, or rewritten
// within) a file. Used for .zshrc PATH exports and the oh-my-zsh plugins line.
type LineInFileStep struct {
	File  string `yaml:"file" validate:"required"`
	Line  string `yaml:"line,omitempty"`
	Match string `yaml:"match,omitempty"`
	State string `yaml:"state,omitempty" validate:"omitempty,oneof=present absent"`
	Owner string `yaml:"owner,omitempty"`
}

// ToolStep installs global packages through a language-ecosystem installer in
// the target user's environment context.
type ToolStep struct {
	Installer string   `yaml:"installer" validate:"required,oneof=npm composer"`
	Packages  []string `yaml:"packages" validate:"required,min=1,dive,min=1"`
	User      string   `yaml:"user,omitempty"`
}

// CommandStep executes an arbitrary shell command, with an optional read-only
// check command deciding whether the mutation is needed.
type CommandStep struct {
	Command string            `yaml:"command" validate:"required,min=1"`
	Check   string            `yaml:"check,omitempty"`
	Shell   string            `yaml:"shell,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	User    string            `yaml:"user,omitempty"`
}

// Validation represents a post-execution validation.
type Validation struct {
	Type string `yaml:"type" validate:"required,oneof=command_exists file_exists path_contains"`

	CommandExists *CommandExistsValidation `yaml:",inline,omitempty"`
	FileExists    *FileExistsValidation    `yaml:",inline,omitempty"`
	PathContains  *PathContainsValidation  `yaml:",inline,omitempty"`
}

// UnmarshalYAML dispatches validation decoding on the type discriminator.
func (v *Validation) UnmarshalYAML(value *yaml.Node) error {
	type baseValidation struct {
		Type string `yaml:"type"`
	}

	var base baseValidation
	if err := value.Decode(&base); err != nil {
		return err
	}
	v.Type = base.Type
	v.CommandExists = nil
	v.FileExists = nil
	v.PathContains = nil

	switch base.Type {
	case "command_exists":
		var ce CommandExistsValidation
		if err := value.Decode(&ce); err != nil {
			return err
		}
		v.CommandExists = &ce
	case "file_exists":
		var fe FileExistsValidation
		if err := value.Decode(&fe); err != nil {
			return err
		}
		v.FileExists = &fe
	case "path_contains":
		var pc PathContainsValidation
		if err := value.Decode(&pc); err != nil {
			return err
		}
		v.PathContains = &pc
	}

	return nil
}

// CommandExistsValidation ensures a command exists on PATH.
type CommandExistsValidation struct {
	Command string `yaml:"command" validate:"required"`
}

// FileExistsValidation ensures a file or directory exists.
type FileExistsValidation struct {
	Path string `yaml:"path" validate:"required"`
}

// PathContainsValidation ensures a file contains specific text.
type PathContainsValidation struct {
	File string `yaml:"file" validate:"required"`
	Text string `yaml:"text" validate:"required"`
}

// StepMap builds a lookup table for steps by ID.
func StepMap(steps []Step) map[string]Step {
	out := make(map[string]Step, len(steps))
	for _, step := range steps {
		out[step.ID] = step
	}
	return out
}
