// Package model defines the State Store entities: Page, PageSnapshot,
// PageInfo and PageMonitor.
package model

import (
	"time"
)

// PageStatus is the Page scheduling state machine.
type PageStatus string

const (
	StatusPending    PageStatus = "PENDING"
	StatusProcessing PageStatus = "PROCESSING"
	StatusPaused     PageStatus = "PAUSED"
)

// Page is a monitored URL and its scheduling state.
type Page struct {
	ID             int64
	URL            string
	Hash           string // sha1(url), 40 hex chars
	Domain         string
	Status         PageStatus
	LastCleanHash  *string
	LastCheckAt    *time.Time
	NextScheduleAt time.Time
	HeartbeatAt    *time.Time
	CheckInterval  time.Duration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DefaultCheckInterval is the check_interval used when a Page is registered
// without an explicit one.
const DefaultCheckInterval = time.Hour
