// Package storage archives risk reports in an S3 compatible bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appconfig "github.com/OFFIS-RIT/warehouse-risk/internal/config"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
)

const reportPrefix = "reports"

// objectAPI is the part of *s3.Client the archive uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type ReportArchive struct {
	client objectAPI
	bucket string
}

func NewS3Client(ctx context.Context, cfg appconfig.S3) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(cfg.Region),
		config.WithBaseEndpoint(cfg.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

func NewReportArchive(client objectAPI, bucket string) *ReportArchive {
	return &ReportArchive{client: client, bucket: bucket}
}

// ReportKey is the object key of a report: reports/<version>/<timestamp>.json.
func ReportKey(r risk.Report) string {
	return fmt.Sprintf("%s/%020d/%s.json", reportPrefix, r.SnapshotVersion, r.GeneratedAt.UTC().Format("20060102T150405.000000000Z"))
}

// Put stores the report as JSON and returns its key.
func (a *ReportArchive) Put(ctx context.Context, r risk.Report) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode risk report: %w", err)
	}

	key := ReportKey(r)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"snapshot-version": fmt.Sprint(r.SnapshotVersion),
			"warehouses":       fmt.Sprint(len(r.Warehouses)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload risk report: %w", err)
	}

	logger.Info("[Risk] Archived report", "key", key, "warehouses", len(r.Warehouses))
	return key, nil
}

// Latest returns the newest archived report. Zero-padded versions and
// timestamps make the lexically greatest key the newest one.
func (a *ReportArchive) Latest(ctx context.Context) (risk.Report, error) {
	var latest string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(reportPrefix + "/"),
	}
	for {
		out, err := a.client.ListObjectsV2(ctx, input)
		if err != nil {
			return risk.Report{}, fmt.Errorf("failed to list risk reports: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil && *obj.Key > latest {
				latest = *obj.Key
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	if latest == "" {
		return risk.Report{}, ErrNoReport
	}
	return a.Get(ctx, latest)
}

var ErrNoReport = errors.New("no archived risk report")

func (a *ReportArchive) Get(ctx context.Context, key string) (risk.Report, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return risk.Report{}, ErrNoReport
		}
		return risk.Report{}, fmt.Errorf("failed to get risk report: %w", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return risk.Report{}, fmt.Errorf("failed to read risk report: %w", err)
	}
	var r risk.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return risk.Report{}, fmt.Errorf("failed to decode risk report %s: %w", key, err)
	}
	return r, nil
}
