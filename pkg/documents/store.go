package documents

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Blob is one uploaded file. Path is unique within its bucket.
type Blob struct {
	Bucket      string    `gorm:"primaryKey" json:"bucket"`
	Path        string    `gorm:"primaryKey" json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Blob) TableName() string {
	return "health_documents"
}

type BlobStore interface {
	UploadBlob(ctx context.Context, path, contentType string, data []byte) error
}

// GormBlobStore keeps blobs in a postgres table, one bucket per store.
type GormBlobStore struct {
	db     *gorm.DB
	bucket string
	now    func() time.Time
}

func NewGormBlobStore(db *gorm.DB, bucket string) *GormBlobStore {
	return &GormBlobStore{db: db, bucket: bucket, now: time.Now}
}

func (s *GormBlobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Blob{})
}

func (s *GormBlobStore) UploadBlob(ctx context.Context, path, contentType string, data []byte) error {
	blob := &Blob{
		Bucket:      s.bucket,
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
		CreatedAt:   s.now().UTC(),
	}
	return s.db.WithContext(ctx).Create(blob).Error
}
