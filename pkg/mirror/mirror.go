// Package mirror copies stored images into an object storage bucket.
//
// The bucket is addressed by a gocloud.dev URL such as file:///srv/images,
// s3://bucket?region=eu-west-1 or gs://bucket. Object keys mirror the local
// layout: folder/file_name.
package mirror

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"imgbatch/pkg/logger"
)

// Mirror uploads files to a bucket
type Mirror struct {
	bucket *blob.Bucket
	url    string
	log    logger.Logger
}

// Open opens the bucket at url
func Open(ctx context.Context, url string, log logger.Logger) (*Mirror, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	bkt, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return &Mirror{bucket: bkt, url: url, log: log}, nil
}

// Key returns the object key for a stored file
func Key(folderKey, fileName string) string {
	return path.Join(folderKey, fileName)
}

// Upload copies the file at localPath to key. An object of the same size
// already at key is left alone and reported as skipped.
func (m *Mirror) Upload(ctx context.Context, key, localPath string) (skipped bool, err error) {
	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", localPath, err)
	}

	attrs, err := m.bucket.Attributes(ctx, key)
	switch {
	case err == nil && attrs.Size == info.Size():
		m.log.DebugWithFields("mirror object up to date", map[string]interface{}{
			"key":  key,
			"size": attrs.Size,
		})
		return true, nil
	case err != nil && gcerrors.Code(err) != gcerrors.NotFound:
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}

	opts := &blob.WriterOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(localPath)),
	}
	if err := m.bucket.Upload(ctx, key, f, opts); err != nil {
		return false, fmt.Errorf("upload %s: %w", key, err)
	}

	m.log.DebugWithFields("mirrored file", map[string]interface{}{
		"key":  key,
		"size": info.Size(),
	})
	return false, nil
}

// Exists reports whether key is present in the bucket
func (m *Mirror) Exists(ctx context.Context, key string) (bool, error) {
	return m.bucket.Exists(ctx, key)
}

// URL returns the bucket URL the mirror was opened with
func (m *Mirror) URL() string {
	return m.url
}

// Close releases the bucket
func (m *Mirror) Close() error {
	return m.bucket.Close()
}
