package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the loader uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Options configures an S3 loader. Credentials fall back to the default
// AWS chain when AccessKeyID is empty.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // optional, e.g. MinIO
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// S3Loader reads templates from objects under a bucket prefix.
type S3Loader struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Loader builds an S3 client from opts.
func NewS3Loader(ctx context.Context, opts S3Options) (*S3Loader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.PathStyle {
			o.UsePathStyle = true
		}
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewS3LoaderWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3LoaderWithClient wraps an existing client.
func NewS3LoaderWithClient(client S3API, bucket, prefix string) *S3Loader {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Loader{client: client, bucket: bucket, prefix: prefix}
}

func (l *S3Loader) Name() string { return "s3://" + l.bucket + "/" + l.prefix }

func (l *S3Loader) key(name string) string {
	return l.prefix + cleanName(name)
}

func (l *S3Loader) Load(ctx context.Context, name string) (*Resource, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key(name)),
	})
	if err != nil {
		return nil, l.mapErr(name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object %s: %w", l.key(name), err)
	}
	return &Resource{Name: name, Data: data, ModTime: aws.ToTime(out.LastModified)}, nil
}

func (l *S3Loader) Stat(ctx context.Context, name string) (time.Time, error) {
	out, err := l.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key(name)),
	})
	if err != nil {
		return time.Time{}, l.mapErr(name, err)
	}
	return aws.ToTime(out.LastModified), nil
}

func (l *S3Loader) mapErr(name string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrResourceNotFound, name)
	}
	return fmt.Errorf("s3 %s: %w", l.key(name), err)
}
