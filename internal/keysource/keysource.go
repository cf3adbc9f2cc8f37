// Package keysource loads the API signing key from a local file or from an
// object in an S3-compatible bucket (OCI Object Storage compatibility API).
package keysource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const maxKeyBytes = 64 << 10

// ErrUnsupportedLocation is returned for locations that are neither a path
// nor an s3:// URL.
var ErrUnsupportedLocation = errors.New("keysource: unsupported key location")

// GetObjectAPI is the S3 GetObject operation. Used for testing with mock
// implementations.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config describes the S3-compatible endpoint holding the key.
type S3Config struct {
	// Endpoint is e.g. https://<namespace>.compat.objectstorage.<region>.oraclecloud.com.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Loader resolves a key location to PEM bytes.
type Loader struct {
	s3 GetObjectAPI
}

// New returns a Loader. The S3 client is built only when an endpoint or
// region is configured; without it only file locations work.
func New(ctx context.Context, cfg S3Config) (*Loader, error) {
	if cfg.Endpoint == "" && cfg.Region == "" {
		return &Loader{}, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})
	return &Loader{s3: client}, nil
}

// NewWithClient creates a Loader with a custom S3 client, used for testing.
func NewWithClient(client GetObjectAPI) *Loader {
	return &Loader{s3: client}
}

// Load reads the key at location: a filesystem path or s3://bucket/key.
func (l *Loader) Load(ctx context.Context, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedLocation)
	}

	if !strings.Contains(location, "://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		return data, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLocation, err)
	}
	switch u.Scheme {
	case "file":
		return l.Load(ctx, u.Path)
	case "s3":
		return l.loadS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedLocation, u.Scheme)
	}
}

func (l *Loader) loadS3(ctx context.Context, bucket, key string) ([]byte, error) {
	if l.s3 == nil {
		return nil, fmt.Errorf("%w: s3 location without S3 endpoint configuration", ErrUnsupportedLocation)
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3 location needs bucket and key", ErrUnsupportedLocation)
	}

	out, err := l.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxKeyBytes))
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
