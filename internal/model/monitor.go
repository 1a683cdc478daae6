package model

import "time"

// PageMonitor is a per-attempt audit record, written on every worker attempt
// whether or not a snapshot was taken.
type PageMonitor struct {
	ID               int64
	PageID           int64
	MonitorTimestamp time.Time
	ContentHash      *string
	CleanHash        *string
	ChangeDetected   bool
	HTTPStatus       *int
	ErrorMessage     *string
	CreatedAt        time.Time
}
