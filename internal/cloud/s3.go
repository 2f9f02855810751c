// Package cloud ships built tree snapshots to and from S3, so downstream
// consumers can read trees without database access.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/pgzip"

	"github.com/gyeh/rx-pathways/internal/model"
)

// S3Client wraps S3 operations for tree snapshot upload/download.
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client creates an S3 client for the given bucket.
func NewS3Client(ctx context.Context, bucket, region string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Client{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// SnapshotKey names the object for one (window, variant) tree.
func SnapshotKey(prefix, window string, variant model.Variant) string {
	return fmt.Sprintf("%s/%s/%s.json.gz", prefix, window, variant)
}

// UploadTree uploads one tree as gzipped JSON.
func (c *S3Client) UploadTree(ctx context.Context, key string, nodes []model.PathwayNode) error {
	data, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("marshaling tree: %w", err)
	}

	var buf bytes.Buffer
	zw := pgzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("compressing tree: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing tree: %w", err)
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}

// DownloadTree downloads one tree snapshot.
func (c *S3Client) DownloadTree(ctx context.Context, key string) ([]model.PathwayNode, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting S3 object %s: %w", key, err)
	}
	defer resp.Body.Close()

	zr, err := pgzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot %s: %w", key, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	var nodes []model.PathwayNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("unmarshaling tree: %w", err)
	}
	return nodes, nil
}
