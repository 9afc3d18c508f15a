package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Artifact selects how a system prompt is handed to a CLI.
type Artifact int

const (
	// ArtifactAgentsFile is a markdown instructions file the CLI picks up from
	// its working directory on its own.
	ArtifactAgentsFile Artifact = iota
	// ArtifactSystemPromptFile is a plain text file whose path is passed to
	// the CLI explicitly.
	ArtifactSystemPromptFile
)

const (
	agentsFileName       = "AGENTS.md"
	systemPromptFileName = "system-prompt.txt"
	dirPerm              = 0o700
	filePerm             = 0o600
)

// Workspace is an ephemeral per-request directory.
type Workspace struct {
	ID   string
	Path string
}

// Manager allocates and removes workspaces under a base directory.
type Manager struct {
	base   string
	prefix string
}

// NewManager returns a manager rooted at base. Directory names are
// "<prefix>-<uuid>".
func NewManager(base, prefix string) (*Manager, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New("workspace base directory must not be empty")
	}
	if prefix == "" {
		prefix = "cligate"
	}
	return &Manager{base: base, prefix: prefix}, nil
}

// Base returns the directory workspaces are created in.
func (m *Manager) Base() string {
	return m.base
}

// Create allocates a fresh workspace, creating any missing parents.
func (m *Manager) Create() (Workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.base, m.prefix+"-"+id)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return Workspace{}, fmt.Errorf("create workspace %q: %w", dir, err)
	}
	slog.Debug("created workspace", "dir", dir)
	return Workspace{ID: id, Path: dir}, nil
}

// WriteSystemArtifact writes systemPrompt into ws using the artifact
// convention of the calling backend. Whitespace-only prompts are skipped.
// The returned path is only set for ArtifactSystemPromptFile.
func (m *Manager) WriteSystemArtifact(ws Workspace, systemPrompt string, artifact Artifact) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", nil
	}

	var name string
	switch artifact {
	case ArtifactAgentsFile:
		name = agentsFileName
	case ArtifactSystemPromptFile:
		name = systemPromptFileName
	default:
		return "", fmt.Errorf("unknown workspace artifact %d", artifact)
	}

	path := filepath.Join(ws.Path, name)
	if err := os.WriteFile(path, []byte(systemPrompt), filePerm); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	slog.Debug("wrote system prompt artifact", "path", path)

	if artifact == ArtifactAgentsFile {
		return "", nil
	}
	return path, nil
}

// Cleanup removes the workspace tree. Failures are logged, never returned, so
// they cannot replace the result of the request that owned the workspace.
func (m *Manager) Cleanup(ws Workspace) {
	if ws.Path == "" {
		return
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		slog.Warn("failed to clean up workspace", "dir", ws.Path, "err", err)
		return
	}
	slog.Debug("cleaned up workspace", "dir", ws.Path)
}
