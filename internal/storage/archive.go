// Package storage keeps a public copy of every accepted generation in an
// S3-compatible bucket, keyed by day so operators can browse output by date.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

// Archive writes corrected output to the bucket and hands back the public URL
// recorded on the generation log. Everything accepted by the pipeline is PNG,
// so the content type and key extension are fixed.
type Archive struct {
	cfg    Config
	client *s3.Client
	clock  func() time.Time
}

func NewArchive(cfg Config) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("s3 public base url is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "generations"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &Archive{
		cfg:    cfg,
		client: s3.New(options),
		clock:  time.Now,
	}, nil
}

// Store uploads one corrected PNG and returns its public URL.
func (a *Archive) Store(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("no image to archive")
	}

	key := a.objectKey(a.clock().UTC())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(image),
		ContentType: aws.String("image/png"),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("archive to s3: %w", err)
	}
	return a.publicURL(key), nil
}

// objectKey places each generation under prefix/YYYY/MM/DD/<uuid>.png.
func (a *Archive) objectKey(now time.Time) string {
	prefix := strings.Trim(a.cfg.Prefix, "/")
	return path.Join(prefix, now.Format("2006/01/02"), uuid.NewString()+".png")
}

func (a *Archive) publicURL(key string) string {
	return strings.TrimRight(a.cfg.PublicBaseURL, "/") + "/" + key
}
