// Package archive copies exported workbooks to S3 so each export leaves a
// dated snapshot behind.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JonMunkholm/sitebook/internal/config"
	"github.com/JonMunkholm/sitebook/internal/workbook"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PutObjectAPI is the part of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes workbooks to a bucket under prefix/YYYY/MM/DD/.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	clock  func() time.Time
	logger *slog.Logger
}

// New builds an S3 client from the default AWS credential chain.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Info("export archive enabled", "bucket", cfg.Bucket, "prefix", cfg.Prefix, "region", awsCfg.Region)
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		clock:  time.Now,
		logger: logger,
	}
}

// Key returns the object key for an export named name taken at t.
func (a *Archiver) Key(name string, t time.Time) string {
	t = t.UTC()
	file := fmt.Sprintf("%s-%s.xlsx", name, t.Format("150405"))
	return path.Join(a.prefix, t.Format("2006/01/02"), file)
}

// Archive uploads wb as an xlsx file and returns the object key.
func (a *Archiver) Archive(ctx context.Context, name string, wb *workbook.Workbook) (string, error) {
	var buf bytes.Buffer
	if err := workbook.WriteXLSX(&buf, wb); err != nil {
		return "", fmt.Errorf("archive %s: %w", name, err)
	}

	key := a.Key(name, a.clock())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String(xlsxContentType),
	})
	if err != nil {
		return "", fmt.Errorf("archive %s to s3://%s/%s: %w", name, a.bucket, key, err)
	}

	a.logger.Info("export archived", "bucket", a.bucket, "key", key, "bytes", buf.Len())
	return key, nil
}
