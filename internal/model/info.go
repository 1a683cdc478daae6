package model

import (
	"encoding/json"
	"time"
)

// PageInfo is an extractor's output for a snapshot. data is an
// opaque structured JSON document produced by the (external) extraction
// function; the core never inspects it.
type PageInfo struct {
	ID               int64
	SnapshotID       int64
	ExtractorVersion string
	Data             json.RawMessage
	CreatedAt        time.Time
}
