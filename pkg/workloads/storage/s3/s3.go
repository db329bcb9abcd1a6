// Package s3 is an object storage on S3 compatible services.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	xe "github.com/fnndsc/plinst/pkg/errors"
	"github.com/fnndsc/plinst/pkg/workloads/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

type store struct {
	client *minio.Client
	bucket string
}

// New connects to the storage, and makes the bucket if it does not exist.
func New(ctx context.Context, config Config) (storage.Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, xe.Wrap(err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if !exists {
		if err := client.MakeBucket(
			ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region},
		); err != nil {
			return nil, xe.Wrap(err)
		}
	}
	return &store{client: client, bucket: config.Bucket}, nil
}

func notFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (s *store) List(ctx context.Context, prefix string) ([]string, error) {
	ret := []string{}
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, xe.Wrap(info.Err)
		}
		ret = append(ret, info.Key)
	}
	return ret, nil
}

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, xe.Wrap(err)
	}
	return true, nil
}

func (s *store) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, xe.Wrap(err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, xe.Wrap(err)
	}
	return body, nil
}

func (s *store) Put(ctx context.Context, path string, content []byte, contentType string) error {
	if _, err := s.client.PutObject(
		ctx, s.bucket, path, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType},
	); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (s *store) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		if notFound(err) {
			return nil
		}
		return xe.Wrap(err)
	}
	return nil
}
