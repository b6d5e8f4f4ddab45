package model

import "time"

// Artifact is a generated byte stream stored under the artifact root.
type Artifact struct {
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Format    ArtifactFormat `json:"format"`
	Size      int64          `json:"size"`
	URL       string         `json:"url,omitempty"` // set when mirrored to object storage
	CreatedAt time.Time      `json:"createdAt"`
	Retention time.Duration  `json:"retention"`
}

// ExpiresAt returns the earliest time the artifact may be deleted.
func (a *Artifact) ExpiresAt() time.Time {
	return a.CreatedAt.Add(a.Retention)
}
