package artifact

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alasbuild/testforge/pkg/config"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/metrics"
)

// S3Uploader uploads a task's artifact directory to an S3-compatible
// object store, mirroring the directory layout under
// <prefix>/<task_id>/...
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Uploader builds an uploader from the blob_storage config section.
func NewS3Uploader(cfg config.BlobStorage) *S3Uploader {
	awsCfg := aws.Config{
		Region: cfg.Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: cfg.AccessKey, SecretAccessKey: cfg.SecretKey}, nil
		}),
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

// UploadPrefix walks localDir and puts every regular file under
// <prefix>/<taskID>/<relative path>.
func (u *S3Uploader) UploadPrefix(ctx context.Context, taskID, localDir string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ArtifactUploadDuration)

	alog := log.WithTaskID(taskID)

	err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		key := strings.Join([]string{strings.Trim(u.prefix, "/"), taskID, filepath.ToSlash(rel)}, "/")

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}
		alog.Debug().Str("key", key).Msg("artifact uploaded")
		return nil
	})

	if err != nil {
		metrics.ArtifactUploadFailuresTotal.Inc()
		return err
	}
	return nil
}
