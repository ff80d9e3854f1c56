package media

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/tcriess/stride-chat/config"
)

// S3Store writes attachments to an S3 compatible bucket. Calls go through a
// circuit breaker so a dead object store fails sends fast instead of holding
// them until the send timeout.
type S3Store struct {
	client        *s3.Client
	uploader      *manager.Uploader
	cb            *gobreaker.CircuitBreaker
	bucket        string
	region        string
	publicBaseURL string
}

func NewS3Store(ctx context.Context, cfg config.StorageConfig, logger hclog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 storage needs a bucket")
	}
	opts := []func(*awscfg.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awscfg.WithRegion(cfg.Region))
	}
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	st := gobreaker.Settings{
		Name:        "object-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &S3Store{
		client:        client,
		uploader:      manager.NewUploader(client),
		cb:            gobreaker.NewCircuitBreaker(st),
		bucket:        cfg.Bucket,
		region:        awsConfig.Region,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
	})
	return errors.Wrapf(err, "upload %s", key)
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
	})
	return errors.Wrapf(err, "delete %s", key)
}

func (s *S3Store) URL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
}

// OpenObjectStore picks the object store configured under storage.type.
func OpenObjectStore(ctx context.Context, cfg config.StorageConfig, logger hclog.Logger) (ObjectStore, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	case "memory", "":
		return NewMemoryObjectStore(cfg.PublicBaseURL), nil
	}
	return nil, errors.Errorf("unknown storage type %q", cfg.Type)
}
