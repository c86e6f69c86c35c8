// Package workspace manages the per-session filesystem namespaces that hold
// artifacts.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Workspace is one allocated namespace: a working directory plus an
// artifact directory.
type Workspace struct {
	ID          string
	Dir         string
	ArtifactDir string
}

// Manager allocates and reclaims workspaces under fixed root directories.
type Manager struct {
	workspaceRoot string
	artifactRoot  string
}

// NewManager creates a workspace manager, creating both roots if needed.
func NewManager(workspaceRoot, artifactRoot string) (*Manager, error) {
	for _, root := range []string{workspaceRoot, artifactRoot} {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create root directory %s: %w", root, err)
		}
	}
	return &Manager{workspaceRoot: workspaceRoot, artifactRoot: artifactRoot}, nil
}

// NormalizeID sanitizes a client-supplied workspace identifier, or mints a
// fresh one when raw is empty. Only alphanumerics, '-' and '_' survive.
func NormalizeID(raw string) (string, error) {
	if raw == "" {
		raw = "workspace_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	var b strings.Builder
	for _, ch := range raw {
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_' {
			b.WriteRune(ch)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("invalid workspace id: %q", raw)
	}
	return b.String(), nil
}

// Allocate creates (or reuses) the directories for the given workspace ID.
// The ID must already be normalized.
func (m *Manager) Allocate(id string) (*Workspace, error) {
	ws := &Workspace{
		ID:          id,
		Dir:         filepath.Join(m.workspaceRoot, id),
		ArtifactDir: filepath.Join(m.artifactRoot, id),
	}
	for _, dir := range []string{ws.Dir, ws.ArtifactDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}
	return ws, nil
}

// ArtifactDir returns the artifact directory for a workspace ID without
// allocating it.
func (m *Manager) ArtifactDir(id string) string {
	return filepath.Join(m.artifactRoot, id)
}

// Remove deletes a workspace's directories and everything under them.
// Sessions leave their workspace in place on close; this is for external
// retention policies and tests.
func (m *Manager) Remove(id string) error {
	if err := os.RemoveAll(filepath.Join(m.artifactRoot, id)); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(m.workspaceRoot, id))
}
