// Package artifact stores, lists, and serves the byte-capped byproducts of
// commands under per-session workspaces.
package artifact

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/browsergate/browsergate/internal/workspace"
	"github.com/browsergate/browsergate/pkg/models"
)

const tmpPrefix = ".tmp-"

// Manager writes and reads artifacts inside workspace artifact directories.
// Per-workspace files are never written concurrently: the owning session's
// execution slot already serializes writers.
type Manager struct {
	workspaces *workspace.Manager
	maxBytes   int64
	httpBase   string
}

// NewManager creates an artifact manager enforcing the given per-write byte
// cap.
func NewManager(workspaces *workspace.Manager, maxBytes int64) *Manager {
	return &Manager{workspaces: workspaces, maxBytes: maxBytes}
}

// SetHTTPBase enables http_url decoration on refs, e.g.
// "http://127.0.0.1:8090".
func (m *Manager) SetHTTPBase(base string) {
	m.httpBase = strings.TrimRight(base, "/")
}

// MaxBytes returns the configured per-write cap.
func (m *Manager) MaxBytes() int64 {
	return m.maxBytes
}

// Store writes data as an artifact and returns its ref. Name may be empty,
// in which case a timestamped name derived from kind is used. The write is
// atomic: a temp file is renamed into place, so a partial write is never
// visible to List or Fetch.
func (m *Manager) Store(workspaceID string, kind models.ArtifactKind, name string, data []byte) (*models.ArtifactRef, error) {
	if int64(len(data)) > m.maxBytes {
		return nil, models.NewError(models.CodeArtifactTooLarge,
			"artifact of %d bytes exceeds cap of %d bytes", len(data), m.maxBytes)
	}

	path, rel, err := m.PlanFile(workspaceID, name, string(kind), defaultExt(kind))
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), tmpPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to finalize artifact: %w", err)
	}

	return m.refFor(workspaceID, rel)
}

// PlanFile validates a target artifact name and returns the absolute path
// the caller (typically the engine) may write to, plus the workspace-relative
// name. Used for files the engine produces directly, like traces and HARs.
func (m *Manager) PlanFile(workspaceID, name, defaultPrefix, suffix string) (string, string, error) {
	dir := m.workspaces.ArtifactDir(workspaceID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if name == "" {
		name = fmt.Sprintf("%s_%d%s", defaultPrefix, time.Now().UnixNano(), suffix)
	} else {
		name = filepath.Base(name)
	}
	if strings.HasPrefix(name, ".") || strings.Contains(name, "..") {
		return "", "", models.NewError(models.CodeInvalidArgument, "invalid artifact filename: %q", name)
	}
	return filepath.Join(dir, name), name, nil
}

// CommitFile registers an engine-written file as an artifact, enforcing the
// byte cap after the fact. Oversized files are removed so they never become
// visible.
func (m *Manager) CommitFile(workspaceID, rel string) (*models.ArtifactRef, error) {
	path := filepath.Join(m.workspaces.ArtifactDir(workspaceID), rel)
	info, err := os.Stat(path)
	if err != nil {
		return nil, models.NewError(models.CodeArtifactNotFound, "artifact not found: %s", rel)
	}
	if info.Size() > m.maxBytes {
		os.Remove(path)
		return nil, models.NewError(models.CodeArtifactTooLarge,
			"artifact of %d bytes exceeds cap of %d bytes", info.Size(), m.maxBytes)
	}
	return m.refFor(workspaceID, rel)
}

// List returns every artifact under the workspace, ordered by creation time.
func (m *Manager) List(workspaceID string) ([]models.ArtifactRef, error) {
	dir := m.workspaces.ArtifactDir(workspaceID)
	var refs []models.ArtifactRef

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		refs = append(refs, models.ArtifactRef{
			Path:        rel,
			Kind:        inferKind(rel),
			WorkspaceID: workspaceID,
			Size:        info.Size(),
			CreatedAt:   info.ModTime(),
			HTTPURL:     m.httpURL(workspaceID, rel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].CreatedAt.Equal(refs[j].CreatedAt) {
			return refs[i].Path < refs[j].Path
		}
		return refs[i].CreatedAt.Before(refs[j].CreatedAt)
	})
	return refs, nil
}

// Fetch reads an artifact's bytes. Cross-workspace paths are rejected with
// AccessDenied; missing files with ArtifactNotFound.
func (m *Manager) Fetch(workspaceID, rel string) ([]byte, *models.ArtifactRef, error) {
	path, err := m.resolve(workspaceID, rel)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, models.NewError(models.CodeArtifactNotFound, "artifact not found: %s", rel)
	}
	ref, err := m.refFor(workspaceID, rel)
	if err != nil {
		return nil, nil, err
	}
	return data, ref, nil
}

// Resolve validates containment and returns the absolute path of an
// artifact, for callers that serve the file directly.
func (m *Manager) Resolve(workspaceID, rel string) (string, error) {
	path, err := m.resolve(workspaceID, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", models.NewError(models.CodeArtifactNotFound, "artifact not found: %s", rel)
	}
	return path, nil
}

func (m *Manager) resolve(workspaceID, rel string) (string, error) {
	dir := m.workspaces.ArtifactDir(workspaceID)
	path := filepath.Join(dir, filepath.FromSlash(rel))
	// filepath.Join cleans the path; anything escaping the workspace's
	// artifact directory is a cross-scope access.
	if path != dir && !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", models.NewError(models.CodeAccessDenied, "artifact path escapes workspace scope: %q", rel)
	}
	return path, nil
}

func (m *Manager) refFor(workspaceID, rel string) (*models.ArtifactRef, error) {
	path := filepath.Join(m.workspaces.ArtifactDir(workspaceID), rel)
	info, err := os.Stat(path)
	if err != nil {
		return nil, models.NewError(models.CodeArtifactNotFound, "artifact not found: %s", rel)
	}
	return &models.ArtifactRef{
		Path:        rel,
		Kind:        inferKind(rel),
		WorkspaceID: workspaceID,
		Size:        info.Size(),
		CreatedAt:   info.ModTime(),
		HTTPURL:     m.httpURL(workspaceID, rel),
	}, nil
}

func (m *Manager) httpURL(workspaceID, rel string) string {
	if m.httpBase == "" {
		return ""
	}
	return fmt.Sprintf("%s/artifacts/%s/%s", m.httpBase, url.PathEscape(workspaceID), url.PathEscape(rel))
}

func defaultExt(kind models.ArtifactKind) string {
	switch kind {
	case models.ArtifactScreenshot:
		return ".png"
	case models.ArtifactTrace:
		return ".zip"
	case models.ArtifactHAR:
		return ".har"
	case models.ArtifactConsoleLog, models.ArtifactStorageState:
		return ".json"
	case models.ArtifactVideo:
		return ".webm"
	}
	return ".bin"
}

func inferKind(name string) models.ArtifactKind {
	base := filepath.Base(name)
	for _, kind := range []models.ArtifactKind{
		models.ArtifactScreenshot,
		models.ArtifactTrace,
		models.ArtifactConsoleLog,
		models.ArtifactHAR,
		models.ArtifactStorageState,
		models.ArtifactVideo,
	} {
		if strings.HasPrefix(base, string(kind)+"_") || strings.HasPrefix(base, string(kind)+".") {
			return kind
		}
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".png", ".jpg", ".jpeg":
		return models.ArtifactScreenshot
	case ".har":
		return models.ArtifactHAR
	case ".webm", ".mp4":
		return models.ArtifactVideo
	case ".zip":
		return models.ArtifactTrace
	}
	return ""
}
