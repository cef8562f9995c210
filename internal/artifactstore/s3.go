// Package artifactstore optionally mirrors a published snapshot's
// kernel/initrd/iPXE config to an S3-compatible bucket (spec.md §4.8 step
// 7's publish stage), so iPXE clients that can't reach the iSCSI-serving
// host directly can still chain-load the same boot artifacts. This is
// additive: the LVM/iSCSI/iPXE pipeline in internal/snapshot never depends
// on it, and a run with no artifactstore.Config configured skips it
// entirely.
package artifactstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config describes the destination bucket and, for non-AWS S3-compatible
// endpoints (e.g. a local MinIO mirror), how to reach it.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Store uploads files to a single configured bucket/prefix.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds a Store from cfg. When cfg.Endpoint is set, the client is
// pointed at it in path-style mode (the common shape for S3-compatible
// object stores); otherwise the AWS default resolver picks the regional
// endpoint.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return filepath.Join(s.prefix, name)
}

// PutFile uploads the file at localPath under key name (joined to the
// store's prefix), grounded on cow.py's publish_kernel_images/push step —
// the Go side of "push artifacts somewhere reachable outside the iSCSI
// network".
func (s *Store) PutFile(ctx context.Context, logger *slog.Logger, localPath, name string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("artifactstore: open %s: %w", localPath, err)
	}
	defer f.Close()

	key := s.key(name)
	logger.Info("uploading artifact", "bucket", s.bucket, "key", key, "path", localPath)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("artifactstore: put %s: %w", key, err)
	}
	return nil
}

// MirrorSnapshotArtifacts uploads a published snapshot's kernel, initrd,
// and iPXE config, each under the snapshot's own basename so multiple
// published snapshots coexist in the same bucket.
func (s *Store) MirrorSnapshotArtifacts(ctx context.Context, logger *slog.Logger, snapshotName, kernel, initrd, ipxeConfig string) error {
	files := map[string]string{
		"vmlinuz":    kernel,
		"initrd.img": initrd,
		"boot.ipxe":  ipxeConfig,
	}
	for name, path := range files {
		if path == "" {
			continue
		}
		if err := s.PutFile(ctx, logger, path, filepath.Join(snapshotName, name)); err != nil {
			return err
		}
	}
	return nil
}
