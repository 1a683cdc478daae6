package model

import "time"

// PageSnapshot is a persisted capture, written only when content change is
// detected. (page_id, clean_hash) and (page_id,
// snapshot_timestamp) are both unique.
type PageSnapshot struct {
	ID                int64
	PageID            int64
	SnapshotTimestamp time.Time
	OSSPath           string
	ContentHash       string
	CleanHash         string
	CreatedAt         time.Time
}

// Artifact file names within a snapshot's OSS directory.
const (
	ArtifactCleanedDOM = "dom.html"
	ArtifactSourceHTML = "source.html"
	ArtifactMHTML      = "page.mhtml"
	ArtifactScreenshot = "screenshot.png"
)
