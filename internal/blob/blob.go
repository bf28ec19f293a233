// Package blob stores binary artifacts in S3-compatible object storage:
// the original uploaded EPUB for each project and generated exports.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and creates the bucket if needed.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Store{client: client, bucket: bucket}, nil
}

// PutOriginalEPUB stores a project's uploaded EPUB and returns its key.
func (s *Store) PutOriginalEPUB(ctx context.Context, projectID string, data []byte) (string, error) {
	key := fmt.Sprintf("originals/%s.epub", projectID)
	if err := s.put(ctx, key, data, "application/epub+zip"); err != nil {
		return "", err
	}
	return key, nil
}

// PutExport stores a generated export artifact under the project.
func (s *Store) PutExport(ctx context.Context, projectID, filename, mimeType string, data []byte) (string, error) {
	key := fmt.Sprintf("exports/%s/%s", projectID, filename)
	if err := s.put(ctx, key, data, mimeType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	// Nil receiver means artifact storage is disabled.
	if s == nil {
		return nil
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get reads an object back in full.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Delete removes one object; missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// DeleteProject removes every artifact stored for the project.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	if s == nil {
		return nil
	}
	prefixes := []string{
		fmt.Sprintf("originals/%s.epub", projectID),
	}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    fmt.Sprintf("exports/%s/", projectID),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list exports: %w", obj.Err)
		}
		prefixes = append(prefixes, obj.Key)
	}
	for _, key := range prefixes {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
