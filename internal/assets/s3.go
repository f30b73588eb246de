package assets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3 or S3-compatible (MinIO, R2) bucket.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string // empty for AWS; set for MinIO and friends
	AccessKey     string // empty to use the default credential chain
	SecretKey     string
	PublicBaseURL string // where objects are served from; derived when empty
	KeyPrefix     string // defaults to "images"
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads to a bucket and returns public object URLs.
type S3Store struct {
	client  putObjectAPI
	bucket  string
	baseURL string
	prefix  string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("assets: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg), nil
}

func newS3Store(client putObjectAPI, cfg S3Config) *S3Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "images"
	}
	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: publicBaseURL(cfg),
		prefix:  prefix,
	}
}

func publicBaseURL(cfg S3Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

func (s *S3Store) Upload(ctx context.Context, localPath string) (*Asset, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("assets: opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("assets: stat %s: %w", localPath, err)
	}
	contentType, ext, err := sniffImage(f)
	if err != nil {
		return nil, err
	}

	key := objectKey(s.prefix, ext)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return nil, fmt.Errorf("assets: uploading %s: %w", key, err)
	}

	return &Asset{
		URL:         s.baseURL + "/" + key,
		Key:         key,
		ContentType: contentType,
		Size:        info.Size(),
	}, nil
}
