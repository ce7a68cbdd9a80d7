package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aluiziolira/reviewdash/remote"
)

// S3API is the subset of the S3 client the source needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Source reads the dataset object from a bucket.
type S3Source struct {
	client S3API
	bucket string
	key    string
	format Format
}

// S3Options locates the dataset object.
type S3Options struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
	// AccessKey and SecretKey pin static credentials; both empty uses the
	// default AWS credential chain.
	AccessKey string
	SecretKey string
}

// NewS3Source builds an S3 client for opts. A non-empty endpoint switches to
// path-style addressing for S3-compatible stores.
func NewS3Source(ctx context.Context, opts S3Options) (*S3Source, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" || opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SourceWithClient(client, opts.Bucket, opts.Key), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client S3API, bucket, key string) *S3Source {
	return &S3Source{
		client: client,
		bucket: bucket,
		key:    key,
		format: FormatFromName(key),
	}
}

func (s *S3Source) Fetch(ctx context.Context) (Blob, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return Blob{}, remote.Unavailable("fetch dataset", err, statusOf(err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Blob{}, remote.Unavailable("read dataset", err, 0)
	}
	return Blob{Data: data, LastModified: aws.ToTime(out.LastModified)}, nil
}

func (s *S3Source) LastModified(ctx context.Context) (time.Time, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return time.Time{}, remote.Unavailable("probe dataset", err, statusOf(err))
	}
	if out.LastModified == nil {
		return time.Time{}, fmt.Errorf("probe dataset: object has no LastModified")
	}
	return *out.LastModified, nil
}

func (s *S3Source) Format() Format { return s.format }

func (s *S3Source) String() string { return "s3://" + s.bucket + "/" + s.key }

func statusOf(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
