package objectstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/talemon/core/config"
)

func TestOssDir_RendersConfiguredPathTemplate(t *testing.T) {
	cfg := &config.OSSConfig{
		KeyPrefix:       "data",
		PathTemplate:    "{url_hash}/{timestamp}/",
		TimestampFormat: "20060102T150405Z",
	}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	dir := ossDir(cfg, "abc123", ts)
	assert.Equal(t, "data/abc123/20260101T000000Z", dir)
}

func TestOssDir_EmptyTemplateFallsBackToPlainLayout(t *testing.T) {
	cfg := &config.OSSConfig{TimestampFormat: "20060102T150405Z"}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	dir := ossDir(cfg, "abc123", ts)
	assert.Equal(t, "abc123/20260101T000000Z", dir)
}

func TestOssDir_NoKeyPrefixOmitsLeadingSegment(t *testing.T) {
	cfg := &config.OSSConfig{PathTemplate: "{url_hash}/{timestamp}", TimestampFormat: "20060102T150405Z"}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	dir := ossDir(cfg, "abc123", ts)
	assert.Equal(t, "abc123/20260101T000000Z", dir)
}
