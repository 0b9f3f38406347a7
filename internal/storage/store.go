// Package storage provides the S3-backed FileStore implementation (spec
// §5's external workspace), grounded on the teacher's internal/storage.Service
// (S3 client construction, MinIO path-style addressing, upload/download) with
// the compare-and-append version assignment added on top via a Postgres
// upsert-returning counter, following the ON CONFLICT DO UPDATE idiom from
// domain/projects/repository.go's CreateMembership.
package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/emergent-company/orchestrator/domain/filestore"
	"github.com/emergent-company/orchestrator/pkg/apperror"
	"github.com/emergent-company/orchestrator/pkg/logger"
)

// Module wires the S3-backed FileStore and binds it to the
// filestore.FileStore interface (the same fx.Annotate/fx.As idiom
// internal/database uses for bun.IDB) for consumers like
// domain/toolregistry that depend on the interface, not this concrete type.
var Module = fx.Module("storage",
	fx.Provide(NewConfig),
	fx.Provide(NewStore),
	fx.Provide(
		fx.Annotate(
			func(s *Store) filestore.FileStore { return s },
			fx.As(new(filestore.FileStore)),
		),
	),
)

// counterRow is kb.orch_artifact_counters: one row per (project, name)
// tracking the next version to assign. The upsert in nextVersion is the
// compare-and-append primitive §5 requires.
type counterRow struct {
	bun.BaseModel `bun:"table:kb.orch_artifact_counters,alias:c"`

	ProjectID   string `bun:"project_id,pk,type:uuid"`
	Name        string `bun:"name,pk"`
	NextVersion int    `bun:"next_version,notnull"`
}

// artifactRow is kb.orch_artifacts: one row per immutable artifact version,
// the Postgres realization of spec §6's artifacts/<name>/meta.json.
type artifactRow struct {
	bun.BaseModel `bun:"table:kb.orch_artifacts,alias:a"`

	ProjectID string    `bun:"project_id,pk,type:uuid"`
	Name      string    `bun:"name,pk"`
	Version   int       `bun:"version,pk"`
	MimeType  string    `bun:"mime_type,notnull"`
	Size      int64     `bun:"size,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()"`
}

// Store implements filestore.FileStore against S3-compatible object storage
// for content and Postgres for version bookkeeping.
type Store struct {
	client *s3.Client
	db     bun.IDB
	cfg    *Config
	log    *slog.Logger
}

// NewStore constructs a Store. When cfg is not Enabled, writes/reads fail
// with ErrInternal rather than panicking, matching the teacher's
// Service.Enabled() escape hatch for environments with no object storage
// configured (e.g. most unit tests).
func NewStore(cfg *Config, db bun.IDB, log *slog.Logger) (*Store, error) {
	log = log.With(logger.Scope("storage"))

	if !cfg.Enabled() {
		log.Warn("artifact storage disabled: no S3 configuration provided")
		return &Store{cfg: cfg, db: db, log: log}, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
				SigningRegion:     cfg.Region,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	log.Info("artifact storage initialized", slog.String("endpoint", cfg.Endpoint), slog.String("bucket", cfg.Bucket))

	return &Store{client: client, db: db, cfg: cfg, log: log}, nil
}

func (s *Store) enabled() bool {
	return s.client != nil
}

func objectKey(projectID, name string, version int) string {
	return fmt.Sprintf("%s/%s/%d", projectID, name, version)
}

// Write assigns the next version atomically via the counters upsert, then
// uploads content to S3 and records the metadata row.
func (s *Store) Write(ctx context.Context, projectID, name string, content []byte, mimeType string) (filestore.Artifact, error) {
	if !s.enabled() {
		return filestore.Artifact{}, apperror.ErrInternal.WithMessage("artifact storage not configured")
	}

	version, err := s.nextVersion(ctx, projectID, name)
	if err != nil {
		return filestore.Artifact{}, err
	}

	key := objectKey(projectID, name, version)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String(mimeType),
	})
	if err != nil {
		s.log.Error("failed to upload artifact", logger.Error(err), slog.String("key", key))
		return filestore.Artifact{}, apperror.ErrInternal.WithInternal(err)
	}

	row := &artifactRow{
		ProjectID: projectID,
		Name:      name,
		Version:   version,
		MimeType:  mimeType,
		Size:      int64(len(content)),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		s.log.Error("failed to record artifact metadata", logger.Error(err), slog.String("key", key))
		return filestore.Artifact{}, apperror.ErrInternal.WithInternal(err)
	}

	return filestore.Artifact{Name: name, Version: version, MimeType: mimeType, Size: row.Size, CreatedAt: row.CreatedAt}, nil
}

// nextVersion atomically assigns and returns the next version for
// (projectID, name) via an upsert-and-return, so concurrent writers from
// different tasks each get a distinct version with no explicit locking.
func (s *Store) nextVersion(ctx context.Context, projectID, name string) (int, error) {
	row := &counterRow{ProjectID: projectID, Name: name, NextVersion: 1}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (project_id, name) DO UPDATE").
		Set("next_version = orch_artifact_counters.next_version + 1").
		Returning("next_version").
		Exec(ctx)
	if err != nil {
		s.log.Error("failed to assign artifact version", logger.Error(err), slog.String("name", name))
		return 0, apperror.ErrInternal.WithInternal(err)
	}
	return row.NextVersion, nil
}

// Read downloads one artifact version, or the latest recorded version when
// version is 0.
func (s *Store) Read(ctx context.Context, projectID, name string, version int) ([]byte, filestore.Artifact, error) {
	if !s.enabled() {
		return nil, filestore.Artifact{}, apperror.ErrInternal.WithMessage("artifact storage not configured")
	}

	row := new(artifactRow)
	q := s.db.NewSelect().Model(row).Where("project_id = ? AND name = ?", projectID, name)
	if version == 0 {
		q = q.OrderExpr("version DESC").Limit(1)
	} else {
		q = q.Where("version = ?", version)
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, filestore.Artifact{}, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("no artifact %q version %d", name, version))
		}
		return nil, filestore.Artifact{}, apperror.ErrInternal.WithInternal(err)
	}

	key := objectKey(projectID, name, row.Version)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		s.log.Error("failed to download artifact", logger.Error(err), slog.String("key", key))
		return nil, filestore.Artifact{}, apperror.ErrInternal.WithInternal(err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, filestore.Artifact{}, apperror.ErrInternal.WithInternal(err)
	}

	return content, filestore.Artifact{
		Name: row.Name, Version: row.Version, MimeType: row.MimeType, Size: row.Size, CreatedAt: row.CreatedAt,
	}, nil
}

// DeleteProjectArtifacts removes every artifact version recorded for
// projectID, from both S3 and the metadata table, for internal/jobs's
// artifact GC sweep of long-terminal projects.
func (s *Store) DeleteProjectArtifacts(ctx context.Context, projectID string) (int, error) {
	if !s.enabled() {
		return 0, nil
	}

	var rows []artifactRow
	if err := s.db.NewSelect().Model(&rows).Where("project_id = ?", projectID).Scan(ctx); err != nil {
		return 0, apperror.ErrInternal.WithInternal(err)
	}

	for _, r := range rows {
		key := objectKey(projectID, r.Name, r.Version)
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)}); err != nil {
			s.log.Error("failed to delete artifact object", logger.Error(err), slog.String("key", key))
			return 0, apperror.ErrInternal.WithInternal(err)
		}
	}

	if _, err := s.db.NewDelete().Model((*artifactRow)(nil)).Where("project_id = ?", projectID).Exec(ctx); err != nil {
		return 0, apperror.ErrInternal.WithInternal(err)
	}
	if _, err := s.db.NewDelete().Model((*counterRow)(nil)).Where("project_id = ?", projectID).Exec(ctx); err != nil {
		return 0, apperror.ErrInternal.WithInternal(err)
	}

	return len(rows), nil
}

// List returns every artifact name's latest version metadata for a project.
func (s *Store) List(ctx context.Context, projectID string) ([]filestore.Artifact, error) {
	var rows []artifactRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("project_id = ?", projectID).
		Order("name ASC", "version DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrInternal.WithInternal(err)
	}

	latest := make(map[string]artifactRow, len(rows))
	for _, r := range rows {
		if _, seen := latest[r.Name]; !seen {
			latest[r.Name] = r
		}
	}

	out := make([]filestore.Artifact, 0, len(latest))
	for _, r := range latest {
		out = append(out, filestore.Artifact{Name: r.Name, Version: r.Version, MimeType: r.MimeType, Size: r.Size, CreatedAt: r.CreatedAt})
	}
	return out, nil
}
