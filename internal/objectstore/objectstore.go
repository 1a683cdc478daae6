// Package objectstore implements the Object Store: a
// content-addressed blob area holding the four artifacts written per
// snapshot, keyed by url_hash and capture timestamp.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/talemon/core/config"
)

// SnapshotArtifacts is the four-blob set written for a single capture.
// Keys match model.Artifact* filenames exactly.
type SnapshotArtifacts struct {
	CleanedDOM []byte
	SourceHTML []byte
	MHTML      []byte
	Screenshot []byte
}

// ObjectStore is the capability interface the Worker and Extractor depend
// on, so tests can substitute a fake in place of S3.
type ObjectStore interface {
	WriteSnapshot(ctx context.Context, urlHash string, timestamp time.Time, artifacts SnapshotArtifacts) (string, error)
	ReadArtifact(ctx context.Context, ossPath, artifactName string) ([]byte, error)
}

// S3ObjectStore is the concrete Object Store, writing four keyed blobs per
// snapshot directory instead of a single document per fetch.
type S3ObjectStore struct {
	client *s3.Client
	cfg    *config.OSSConfig
	env    string
}

func NewS3ObjectStore(cfg *config.OSSConfig, env string) *S3ObjectStore {
	slog.Info("connecting to the object store...")

	c, err := connect(cfg, env)
	if err != nil {
		slog.Error("failed to connect to the object store.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3ObjectStore{client: c, cfg: cfg, env: env}
}

// WriteSnapshot uploads the four artifacts under the directory rendered by
// cfg.KeyPrefix and cfg.PathTemplate and returns that directory path,
// recorded as PageSnapshot.oss_path.
func (os_ *S3ObjectStore) WriteSnapshot(ctx context.Context, urlHash string, timestamp time.Time, artifacts SnapshotArtifacts) (string, error) {
	dir := ossDir(os_.cfg, urlHash, timestamp)

	uploads := map[string][]byte{
		"dom.html":       artifacts.CleanedDOM,
		"source.html":    artifacts.SourceHTML,
		"page.mhtml":     artifacts.MHTML,
		"screenshot.png": artifacts.Screenshot,
	}
	for name, body := range uploads {
		key := path.Join(dir, name)
		if _, err := os_.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &os_.cfg.BucketName,
			Key:    &key,
			Body:   bytes.NewReader(body),
		}); err != nil {
			return "", fmt.Errorf("objectstore: put %s: %w", key, err)
		}
	}
	slog.Debug("snapshot artifacts saved to object store.", slog.String("path", dir))

	return dir, nil
}

// ReadArtifact fetches a single named blob back out of an existing
// snapshot directory, used by the Extractor to feed artifacts to the
// Extract collaborator.
func (os_ *S3ObjectStore) ReadArtifact(ctx context.Context, ossPath, artifactName string) ([]byte, error) {
	key := path.Join(ossPath, artifactName)
	out, err := os_.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &os_.cfg.BucketName,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("objectstore: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// ossDir renders cfg.PathTemplate (placeholders {url_hash} and {timestamp})
// under cfg.KeyPrefix. An empty template falls back to the plain
// {url_hash}/{timestamp} layout.
func ossDir(cfg *config.OSSConfig, urlHash string, timestamp time.Time) string {
	ts := timestamp.UTC().Format(cfg.TimestampFormat)

	template := strings.TrimSpace(cfg.PathTemplate)
	if template == "" {
		template = "{url_hash}/{timestamp}"
	}
	rendered := strings.NewReplacer("{url_hash}", urlHash, "{timestamp}", ts).Replace(template)
	rendered = strings.Trim(rendered, "/")

	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		return rendered
	}
	return path.Join(cfg.KeyPrefix, rendered)
}

func connect(cfg *config.OSSConfig, env string) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.Region))
	if err != nil {
		slog.Error("failed to load object store config.", slog.String("err", err.Error()))
		return nil, err
	}

	if env == "local" {
		s3Config.BaseEndpoint = &cfg.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		slog.Warn("test configuration for object store")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}
