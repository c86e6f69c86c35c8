package models

import "time"

// ArtifactKind classifies a persisted command byproduct.
type ArtifactKind string

const (
	ArtifactScreenshot   ArtifactKind = "screenshot"
	ArtifactTrace        ArtifactKind = "trace"
	ArtifactConsoleLog   ArtifactKind = "console"
	ArtifactHAR          ArtifactKind = "har"
	ArtifactStorageState ArtifactKind = "storage-state"
	ArtifactVideo        ArtifactKind = "video"
)

// ArtifactRef describes a stored artifact. Path is relative to the owning
// workspace's artifact directory and doubles as the artifact identifier.
type ArtifactRef struct {
	Path        string       `json:"path"`
	Kind        ArtifactKind `json:"kind,omitempty"`
	WorkspaceID string       `json:"workspace_id"`
	Size        int64        `json:"size"`
	CreatedAt   time.Time    `json:"created_at"`
	HTTPURL     string       `json:"http_url,omitempty"`
}
