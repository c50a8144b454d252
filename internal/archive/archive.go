// Package archive stores settlement receipts in an S3-compatible bucket
// (AWS S3, MinIO, R2) so resolved rounds can be audited after the contract
// state has been cleared.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/xelma/round-engine/internal/model"
)

// Archiver persists settlement receipts.
type Archiver interface {
	Archive(ctx context.Context, s *model.Settlement) error
}

// Options configures an S3Archiver.
type Options struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	// Prefix is prepended to every object key.
	Prefix string
}

var (
	ErrNoBucket = errors.New("archive: bucket name is required")
	ErrNoRegion = errors.New("archive: region is required")
)

// objectPutter is the subset of *s3.Client the archiver calls.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one JSON object per settlement.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Archiver builds an S3 client from opts. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func NewS3Archiver(ctx context.Context, opts Options) (*S3Archiver, error) {
	if opts.Bucket == "" {
		return nil, ErrNoBucket
	}
	if opts.Region == "" {
		return nil, ErrNoRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		endpoint := normaliseEndpoint(opts.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if opts.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

// Archive uploads s as JSON under ObjectKey.
func (a *S3Archiver) Archive(ctx context.Context, s *model.Settlement) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("archive: marshal settlement %s: %w", s.ID, err)
	}
	key := ObjectKey(a.prefix, s)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put object %s: %w", key, err)
	}
	return nil
}

// ObjectKey lays receipts out by UTC resolution date:
// <prefix>/yyyy/mm/dd/<id>.json.
func ObjectKey(prefix string, s *model.Settlement) string {
	return path.Join(prefix, s.ResolvedAt.UTC().Format("2006/01/02"), s.ID+".json")
}

// normaliseEndpoint defaults a scheme-less endpoint such as "minio:9000"
// to https.
func normaliseEndpoint(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}

// Nop discards receipts. It is used when no bucket is configured.
type Nop struct{}

func (Nop) Archive(context.Context, *model.Settlement) error { return nil }

var (
	_ Archiver = (*S3Archiver)(nil)
	_ Archiver = Nop{}
)
