package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *MockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.ListObjectsV2Output), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openIndex(t *testing.T, dir string) *vectorindex.Index {
	t.Helper()
	ix, err := vectorindex.Open(vectorindex.Config{Dir: dir, Dimension: 4}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

type failingSnapshotter struct{}

func (failingSnapshotter) WriteSnapshot(w io.Writer) error { return errors.New("disk gone") }

func TestStore_UploadThenRestore(t *testing.T) {
	ctx := context.Background()
	client := new(MockS3Client)
	store := NewStore(client, "backups", "/facegate/index/", testLogger())
	store.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	src := openIndex(t, t.TempDir())
	_, err := src.Insert([]float32{1, 0, 0, 0}, "user_aaaaaaaaaaaa")
	require.NoError(t, err)
	_, err = src.Insert([]float32{0, 1, 0, 0}, "user_bbbbbbbbbbbb")
	require.NoError(t, err)

	const wantKey = "facegate/index/snapshot-20260304T050607Z.tar.zst"

	var uploaded []byte
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Bucket == "backups" && *in.Key == wantKey
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		uploaded, _ = io.ReadAll(in.Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	snap, err := store.Upload(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, wantKey, snap.Key)
	assert.Equal(t, int64(len(uploaded)), snap.Size)
	require.NotEmpty(t, uploaded)

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return *in.Prefix == "facegate/index/"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("facegate/index/snapshot-20260101T000000Z.tar.zst"), Size: aws.Int64(10)},
			{Key: aws.String(wantKey), Size: aws.Int64(snap.Size)},
			{Key: aws.String("facegate/index/notes.txt")},
		},
	}, nil).Once()

	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Key == wantKey
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(uploaded))}, nil).Once()

	dir := t.TempDir()
	key, err := store.Restore(ctx, "", dir, 4)
	require.NoError(t, err)
	assert.Equal(t, wantKey, key)

	restored := openIndex(t, dir)
	assert.Equal(t, src.Mappings(), restored.Mappings())

	results, err := restored.Search([]float32{0, 1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "user_bbbbbbbbbbbb", results[0].IdentityID)

	client.AssertExpectations(t)
}

func TestStore_Upload_Errors(t *testing.T) {
	t.Run("snapshot failure skips upload", func(t *testing.T) {
		client := new(MockS3Client)
		store := NewStore(client, "backups", "", testLogger())

		_, err := store.Upload(context.Background(), failingSnapshotter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "write snapshot")
		client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
	})

	t.Run("put failure is wrapped", func(t *testing.T) {
		client := new(MockS3Client)
		store := NewStore(client, "backups", "", testLogger())
		client.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("access denied")).Once()

		_, err := store.Upload(context.Background(), openIndex(t, t.TempDir()))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upload snapshot")
	})
}

func TestStore_List_SortsNewestFirst(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "backups", "", testLogger())

	client.On("ListObjectsV2", mock.Anything, mock.Anything).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("snapshot-20250101T000000Z.tar.zst")},
			{Key: aws.String("snapshot-20260101T000000Z.tar.zst")},
			{Key: aws.String("snapshot-20251231T000000Z.tar.zst")},
		},
	}, nil).Once()

	snapshots, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, "snapshot-20260101T000000Z.tar.zst", snapshots[0].Key)
	assert.Equal(t, "snapshot-20250101T000000Z.tar.zst", snapshots[2].Key)
}

func TestStore_Restore_NoSnapshots(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "backups", "facegate", testLogger())

	client.On("ListObjectsV2", mock.Anything, mock.Anything).Return(&s3.ListObjectsV2Output{}, nil).Once()

	_, err := store.Restore(context.Background(), "", t.TempDir(), 4)
	assert.ErrorIs(t, err, ErrNoSnapshots)
}

func TestStore_Restore_MissingKey(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "backups", "facegate", testLogger())

	client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{}).Once()

	_, err := store.Restore(context.Background(), "facegate/missing.tar.zst", t.TempDir(), 4)
	assert.ErrorIs(t, err, ErrNoSnapshots)
}
