package hostinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strings"
)

const osReleasePath = "/etc/os-release"

// Host carries read-only facts about the machine being provisioned. It is
// gathered once per run and passed explicitly to every probe and apply call
// instead of being read from ambient process state.
type Host struct {
	// DistroID is the lowercase distribution identifier, e.g. "ubuntu" or "debian".
	DistroID string
	// Codename is the release codename, e.g. "jammy" or "bookworm".
	Codename string
	// Arch is the dpkg architecture string, e.g. "amd64" or "arm64".
	Arch string
	// EUID is the effective user id of this process.
	EUID int

	// LookPath resolves command names; defaults to exec.LookPath. Tests
	// substitute it to fake command availability.
	LookPath func(string) (string, error)
}

// Gather collects host facts from the running system.
func Gather() (*Host, error) {
	h := &Host{
		EUID:     os.Geteuid(),
		Arch:     dpkgArch(),
		LookPath: exec.LookPath,
	}

	f, err := os.Open(osReleasePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Non-Debian hosts still get a context; distro-gated directives
			// report themselves unsupported.
			return h, nil
		}
		return nil, fmt.Errorf("read %s: %w", osReleasePath, err)
	}
	defer f.Close()

	h.DistroID, h.Codename = parseOSRelease(f)
	return h, nil
}

// IsRoot reports whether the process runs with root privileges.
func (h *Host) IsRoot() bool {
	return h != nil && h.EUID == 0
}

// HasCommand reports whether the named command resolves on PATH.
func (h *Host) HasCommand(name string) bool {
	if h == nil {
		return false
	}
	look := h.LookPath
	if look == nil {
		look = exec.LookPath
	}
	_, err := look(name)
	return err == nil
}

// LookupUser resolves a local account by name.
func (h *Host) LookupUser(name string) (*user.User, error) {
	return user.Lookup(name)
}

// SupportsRelease reports whether the host's distro/codename pair appears in
// the given support matrix (distro id -> allowed codenames).
func (h *Host) SupportsRelease(matrix map[string][]string) bool {
	if h == nil || h.DistroID == "" || h.Codename == "" {
		return false
	}
	codenames, ok := matrix[h.DistroID]
	if !ok {
		return false
	}
	for _, c := range codenames {
		if c == h.Codename {
			return true
		}
	}
	return false
}

func (h *Host) String() string {
	if h == nil {
		return "unknown host"
	}
	return fmt.Sprintf("%s/%s (%s)", h.DistroID, h.Codename, h.Arch)
}

// parseOSRelease extracts ID and VERSION_CODENAME from os-release content.
func parseOSRelease(r io.Reader) (id, codename string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "ID":
			id = strings.ToLower(value)
		case "VERSION_CODENAME":
			codename = strings.ToLower(value)
		case "UBUNTU_CODENAME":
			if codename == "" {
				codename = strings.ToLower(value)
			}
		}
	}
	return id, codename
}

func dpkgArch() string {
	if out, err := exec.Command("dpkg", "--print-architecture").Output(); err == nil {
		if arch := strings.TrimSpace(string(out)); arch != "" {
			return arch
		}
	}
	// dpkg missing; fall back to the Go arch names apt also understands.
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return runtime.GOARCH
	default:
		return runtime.GOARCH
	}
}
