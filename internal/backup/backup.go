// Package backup ships vector index snapshots to S3 compatible storage.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

const snapshotExt = ".tar.zst"

var ErrNoSnapshots = errors.New("no snapshots found")

// API is the subset of the S3 client used here.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Snapshotter is implemented by *vectorindex.Index
type Snapshotter interface {
	WriteSnapshot(w io.Writer) error
}

type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint (MinIO, LocalStack). Path style
	// addressing is used when set.
	Endpoint string
}

// NewS3Client builds an S3 client from the default credential chain.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type Snapshot struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type Store struct {
	client API
	bucket string
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(client API, bucket, prefix string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
		now:    time.Now,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Upload writes a snapshot of src under a timestamped key and returns it.
func (s *Store) Upload(ctx context.Context, src Snapshotter) (*Snapshot, error) {
	var buf bytes.Buffer
	if err := src.WriteSnapshot(&buf); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	ts := s.now().UTC()
	key := s.key("snapshot-" + ts.Format("20060102T150405Z") + snapshotExt)
	size := int64(buf.Len())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/zstd"),
	})
	if err != nil {
		return nil, fmt.Errorf("upload snapshot %s: %w", key, err)
	}

	s.logger.Info("index snapshot uploaded",
		"bucket", s.bucket,
		"key", key,
		"bytes", size,
	)

	return &Snapshot{Key: key, Size: size, LastModified: ts}, nil
}

// List returns the stored snapshots, newest first.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	var snapshots []Snapshot

	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, snapshotExt) {
				continue
			}
			snapshots = append(snapshots, Snapshot{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	// keys embed the timestamp
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Key > snapshots[j].Key
	})

	return snapshots, nil
}

// Restore downloads the snapshot at key (latest when empty) and unpacks it
// into dir. The index must not be open on dir.
func (s *Store) Restore(ctx context.Context, key, dir string, dimension int) (string, error) {
	if key == "" {
		snapshots, err := s.List(ctx)
		if err != nil {
			return "", err
		}
		if len(snapshots) == 0 {
			return "", ErrNoSnapshots
		}
		key = snapshots[0].Key
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", fmt.Errorf("snapshot %s: %w", key, ErrNoSnapshots)
		}
		return "", fmt.Errorf("download snapshot %s: %w", key, err)
	}
	defer func() {
		_ = out.Body.Close()
	}()

	if err := vectorindex.RestoreSnapshot(out.Body, dir, dimension); err != nil {
		return "", fmt.Errorf("restore snapshot %s: %w", key, err)
	}

	s.logger.Info("index snapshot restored", "key", key, "dir", dir)
	return key, nil
}
