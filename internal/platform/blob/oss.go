package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"iinportal/pkg/platform/sentinel"
)

type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

// OSSStore keeps blobs in an Alibaba Cloud OSS bucket.
type OSSStore struct {
	bucket *oss.Bucket
	prefix string
	now    func() time.Time
}

func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.Bucket == "" {
		return nil, errors.New("oss: endpoint, credentials and bucket are required")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss: init client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss: open bucket %s: %w", cfg.Bucket, err)
	}
	return &OSSStore{bucket: bucket, prefix: cfg.Prefix, now: time.Now}, nil
}

func (s *OSSStore) Store(ctx context.Context, data []byte, suggestedName string) (string, error) {
	key := NewKey(s.prefix, suggestedName, s.now())
	contentType := http.DetectContentType(data)
	if err := s.bucket.PutObject(key, bytes.NewReader(data), oss.WithContext(ctx), oss.ContentType(contentType)); err != nil {
		return "", fmt.Errorf("%w: oss put %s: %v", sentinel.ErrUnavailable, key, err)
	}
	return key, nil
}

func (s *OSSStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	body, err := s.bucket.GetObject(key, oss.WithContext(ctx))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%w: oss get %s: %v", sentinel.ErrUnavailable, key, err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: oss read %s: %v", sentinel.ErrUnavailable, key, err)
	}
	return data, nil
}

func (s *OSSStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.IsObjectExist(key, oss.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: oss head %s: %v", sentinel.ErrUnavailable, key, err)
	}
	return ok, nil
}

func (s *OSSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: oss delete %s: %v", sentinel.ErrUnavailable, key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var se oss.ServiceError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.Code == "NoSuchKey"
	}
	return false
}
