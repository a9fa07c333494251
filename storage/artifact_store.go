package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"model-orchestrator/config"
	"model-orchestrator/core/features"
	"model-orchestrator/core/models"
	"model-orchestrator/core/training"
)

// ModelArtifact bundles everything needed to serve a trained version:
// the fitted network, the feature snapshot, and the label vocabulary
// for classifiers.
type ModelArtifact struct {
	ModelKey    string             `json:"model_key"`
	Version     int                `json:"version"`
	TaskType    models.TaskType    `json:"task_type"`
	TargetField string             `json:"target_field"`
	Labels      []string           `json:"labels,omitempty"`
	Snapshot    *features.Snapshot `json:"snapshot"`
	Network     *training.Network  `json:"network"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ArtifactStore persists model artifacts as JSON objects in a MinIO
// bucket, keyed models/<model_key>/v<version>.json.
type ArtifactStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewArtifactStore creates an artifact store against the configured
// object storage endpoint.
func NewArtifactStore(cfg config.ArtifactConfig, logger *zap.Logger) (*ArtifactStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object storage client: %w", err)
	}
	return &ArtifactStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.Named("artifacts"),
	}, nil
}

// EnsureBucket creates the artifact bucket if it does not exist.
func (s *ArtifactStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created artifact bucket", zap.String("bucket", s.bucket))
	return nil
}

// SaveModel uploads an artifact and returns its URI.
func (s *ArtifactStore) SaveModel(ctx context.Context, artifact *ModelArtifact) (string, error) {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	key := objectKey(artifact.ModelKey, artifact.Version)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", key, err)
	}

	uri := fmt.Sprintf("minio://%s/%s", s.bucket, key)
	s.logger.Info("artifact saved",
		zap.String("model_key", artifact.ModelKey),
		zap.Int("version", artifact.Version),
		zap.String("uri", uri))
	return uri, nil
}

// LoadModel downloads and decodes the artifact for a model version.
func (s *ArtifactStore) LoadModel(ctx context.Context, modelKey string, version int) (*ModelArtifact, error) {
	key := objectKey(modelKey, version)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}

	var artifact ModelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", key, err)
	}
	return &artifact, nil
}

// LoadSnapshot returns just the feature snapshot of a model version,
// used by the drift check.
func (s *ArtifactStore) LoadSnapshot(ctx context.Context, modelKey string, version int) (*features.Snapshot, error) {
	artifact, err := s.LoadModel(ctx, modelKey, version)
	if err != nil {
		return nil, err
	}
	return artifact.Snapshot, nil
}

func objectKey(modelKey string, version int) string {
	return fmt.Sprintf("models/%s/v%d.json", modelKey, version)
}
