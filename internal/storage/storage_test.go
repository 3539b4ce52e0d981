package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"socialify-moderation/backend/internal/store"
)

type fakeTransfer struct {
	bucket string
	key    string
	body   []byte
	err    error
}

func (f *fakeTransfer) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = data
	return &manager.UploadOutput{Key: in.Key}, nil
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	require.Equal(t, "unsafe/20250309-14-05-07-cat.png", ObjectKey(TagUnsafe, "/var/spool/cat.png", at))
	require.Equal(t, TagSafe, TagFor(false))
	require.Equal(t, TagUnsafe, TagFor(true))
}

func TestS3UploaderUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc-meme.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))

	transfer := &fakeTransfer{}
	up := newS3Uploader("image-posts-store", "us-east-1", transfer)
	up.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	obj, err := up.Upload(context.Background(), path, TagSafe)
	require.NoError(t, err)
	require.Equal(t, "safe/20250102-03-04-05-abc-meme.png", obj.Key)
	require.Equal(t, "https://image-posts-store.s3.us-east-1.amazonaws.com/safe/20250102-03-04-05-abc-meme.png", obj.URL)
	require.Equal(t, "image-posts-store", transfer.bucket)
	require.Equal(t, []byte("png"), transfer.body)
}

func TestS3UploaderMissingFile(t *testing.T) {
	up := newS3Uploader("b", "us-east-1", &fakeTransfer{})
	_, err := up.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.png"), TagSafe)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewS3UploaderRequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(aws.Config{Region: "us-east-1"}, S3Config{})
	require.ErrorIs(t, err, ErrMissingBucket)

	up, err := NewS3Uploader(aws.Config{}, S3Config{Bucket: "b", Endpoint: "http://127.0.0.1:9000", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	require.Equal(t, "us-east-1", up.region)
}

func TestSpoolName(t *testing.T) {
	name := SpoolName("../../etc/my photo!.png")
	require.True(t, strings.HasSuffix(name, "-my_photo_.png"), name)
	require.Len(t, strings.SplitN(name, "-", 2)[0], 8)
	require.True(t, strings.HasSuffix(SpoolName(""), "-image"))
}

type scriptedUploader struct {
	errs  []error
	calls int
}

func (s *scriptedUploader) Upload(_ context.Context, localPath, tag string) (Object, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return Object{}, err
		}
	}
	if _, err := os.Stat(localPath); err != nil {
		return Object{}, err
	}
	return Object{Key: tag + "/" + filepath.Base(localPath), URL: "https://example/" + filepath.Base(localPath)}, nil
}

func newOutbox(t *testing.T) (*Outbox, *store.Database) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "outbox.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	outbox, err := NewOutbox(db, filepath.Join(t.TempDir(), "spool"))
	require.NoError(t, err)
	return outbox, db
}

func TestDrainUploadsAndRemovesSpool(t *testing.T) {
	outbox, db := newOutbox(t)
	row, err := outbox.Spool(context.Background(), "req-1", []byte("img"), "cat.png", TagUnsafe)
	require.NoError(t, err)
	require.FileExists(t, row.Path)

	drainer := NewDrainer(db, &scriptedUploader{}, 10, 3)
	res, err := drainer.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, DrainResult{Uploaded: 1}, res)
	require.NoFileExists(t, row.Path)

	got, err := db.GetUpload(row.ID)
	require.NoError(t, err)
	require.Equal(t, store.UploadDone, got.Status)
	require.True(t, strings.HasPrefix(got.ObjectKey, "unsafe/"))
}

func TestDrainRetriesThenAbandons(t *testing.T) {
	outbox, db := newOutbox(t)
	row, err := outbox.Spool(context.Background(), "req-2", []byte("img"), "dog.png", TagSafe)
	require.NoError(t, err)

	denied := errors.New("access denied")
	drainer := NewDrainer(db, &scriptedUploader{errs: []error{denied, denied}}, 10, 2)

	res, err := drainer.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, DrainResult{Retried: 1}, res)
	require.FileExists(t, row.Path)

	res, err = drainer.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, DrainResult{Failed: 1}, res)
	require.NoFileExists(t, row.Path)

	failed, err := db.CountUploads(store.UploadFailed)
	require.NoError(t, err)
	require.EqualValues(t, 1, failed)
}

func TestDrainMissingFileIsTerminal(t *testing.T) {
	outbox, db := newOutbox(t)
	row, err := outbox.Spool(context.Background(), "req-3", []byte("img"), "x.png", TagSafe)
	require.NoError(t, err)
	require.NoError(t, os.Remove(row.Path))

	res, err := NewDrainer(db, &scriptedUploader{}, 10, 5).Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, DrainResult{Failed: 1}, res)
}

func TestDrainerRunStopsOnCancel(t *testing.T) {
	outbox, db := newOutbox(t)
	_, err := outbox.Spool(context.Background(), "req-4", []byte("img"), "y.png", TagSafe)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewDrainer(db, &scriptedUploader{}, 10, 3).Run(ctx, 10*time.Millisecond)
	}()
	require.Eventually(t, func() bool {
		n, err := db.CountUploads(store.UploadDone)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestLogUploader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "z.png")
	require.NoError(t, os.WriteFile(path, []byte("z"), 0o600))
	obj, err := LogUploader{}.Upload(context.Background(), path, TagSafe)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(obj.Key, "safe/"))
	require.Equal(t, "file://"+path, obj.URL)
}

func TestNewUploaderBackends(t *testing.T) {
	up, err := NewUploader("LOG", aws.Config{}, S3Config{})
	require.NoError(t, err)
	require.IsType(t, LogUploader{}, up)

	up, err = NewUploader("s3", aws.Config{Region: "eu-west-1"}, S3Config{Bucket: "image-posts-store"})
	require.NoError(t, err)
	require.IsType(t, &S3Uploader{}, up)

	_, err = NewUploader("s3", aws.Config{}, S3Config{})
	require.ErrorIs(t, err, ErrMissingBucket)

	_, err = NewUploader("gcs", aws.Config{}, S3Config{})
	require.Error(t, err)
}
