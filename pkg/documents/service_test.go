package documents

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/smarttriage/platform/pkg/classifier"
	"github.com/smarttriage/platform/pkg/common/models"
	"github.com/smarttriage/platform/pkg/patient"
	"github.com/smarttriage/platform/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type memoryBlobs struct {
	err   error
	blobs map[string][]byte
	types map[string]string
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryBlobs) UploadBlob(_ context.Context, path, contentType string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.blobs[path] = data
	m.types[path] = contentType
	return nil
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }

var blobPathPattern = regexp.MustCompile(`^[0-9a-f-]{36}\.pdf$`)

func TestUploadStoresThenParses(t *testing.T) {
	blobs := newMemoryBlobs()
	fn := &testutil.FakeClassifier{Parsed: models.ParsedDocument{Age: intPtr(62), Gender: strPtr("Male")}}
	svc := NewService(blobs, fn, 1024)

	parsed, err := svc.Upload(context.Background(), "Referral.PDF", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, 62, *parsed.Age)

	require.Len(t, fn.ParsedPaths, 1)
	path := fn.ParsedPaths[0]
	assert.Regexp(t, blobPathPattern, path)
	assert.Equal(t, []byte("%PDF-1.4"), blobs.blobs[path])
	assert.Equal(t, "application/pdf", blobs.types[path])
}

func TestUploadFailureSkipsParse(t *testing.T) {
	blobs := newMemoryBlobs()
	blobs.err = errors.New("bucket unavailable")
	fn := &testutil.FakeClassifier{}

	_, err := NewService(blobs, fn, 0).Upload(context.Background(), "scan.png", "image/png", strings.NewReader("png"))
	var pe *patient.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "upload", pe.Op)
	assert.Empty(t, fn.ParsedPaths)
}

func TestParseFailureIsRemoteError(t *testing.T) {
	fn := &testutil.FakeClassifier{ParseErr: errors.New("unreadable")}

	_, err := NewService(newMemoryBlobs(), fn, 0).Upload(context.Background(), "scan.png", "image/png", strings.NewReader("png"))
	assert.True(t, classifier.IsRemoteProcedureError(err))
}

func TestUploadRejectsEmptyAndOversized(t *testing.T) {
	svc := NewService(newMemoryBlobs(), &testutil.FakeClassifier{}, 4)

	_, err := svc.Upload(context.Background(), "a.txt", "text/plain", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = svc.Upload(context.Background(), "a.txt", "text/plain", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestBlobPathWithoutExtension(t *testing.T) {
	assert.Regexp(t, `^[0-9a-f-]{36}$`, BlobPath("README"))
	assert.Regexp(t, `\.jpg$`, BlobPath("photo.JPG"))
}

func TestGormBlobStoreInserts(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	store := NewGormBlobStore(db, "health-documents")
	store.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	mock.ExpectExec(`INSERT INTO "health_documents"`).
		WithArgs("health-documents", "abc.pdf", "application/pdf", int64(3), []byte("pdf"), time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UploadBlob(context.Background(), "abc.pdf", "application/pdf", []byte("pdf")))
	require.NoError(t, mock.ExpectationsWereMet())
}
