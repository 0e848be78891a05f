package modal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
)

// ErrDocumentNotFound is returned by a Source when no document exists for an
// ID.
var ErrDocumentNotFound = errors.New("modal document not found")

// Source fetches raw modal documents by config ID.
type Source interface {
	Fetch(ctx context.Context, configID string) ([]byte, error)
}

var validConfigID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidConfigID reports whether id is safe to use as a document name.
func ValidConfigID(id string) bool {
	return len(id) <= 128 && validConfigID.MatchString(id) && !strings.Contains(id, "..")
}

// FileSource reads "<dir>/<id>.json".
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Dir returns the directory documents are read from.
func (s *FileSource) Dir() string { return s.dir }

// Fetch reads the document for configID.
func (s *FileSource) Fetch(_ context.Context, configID string) ([]byte, error) {
	if !ValidConfigID(configID) {
		return nil, ErrDocumentNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, configID+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading modal document %s: %w", configID, err)
	}
	return data, nil
}

// HealthCheck reports whether the document directory is readable.
func (s *FileSource) HealthCheck(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

// RedisSource reads documents stored as plain string values under
// "<prefix><id>".
type RedisSource struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSource creates a RedisSource.
func NewRedisSource(client redis.UniversalClient, prefix string) *RedisSource {
	return &RedisSource{client: client, prefix: prefix}
}

// Fetch reads the document for configID.
func (s *RedisSource) Fetch(ctx context.Context, configID string) ([]byte, error) {
	if !ValidConfigID(configID) {
		return nil, ErrDocumentNotFound
	}
	data, err := s.client.Get(ctx, s.prefix+configID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.prefix+configID, err)
	}
	return data, nil
}

// HealthCheck pings the Redis server.
func (s *RedisSource) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures an S3Source.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO or LocalStack
	Prefix   string
}

// S3Source reads documents from "<prefix><id>.json" in a bucket.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Source creates an S3Source using the default AWS credential chain.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SourceWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3SourceWithClient creates an S3Source over an existing client.
func NewS3SourceWithClient(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// Fetch downloads the document for configID.
func (s *S3Source) Fetch(ctx context.Context, configID string) ([]byte, error) {
	if !ValidConfigID(configID) {
		return nil, ErrDocumentNotFound
	}
	key := s.prefix + configID + ".json"
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}
