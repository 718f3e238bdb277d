package audiostore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig configures the S3-compatible backend. PublicBaseURL is the
// externally reachable root for stored objects; when empty, URLs are built
// from the endpoint and bucket.
type ObjectConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// Object stores audio in an S3-compatible bucket via minio-go.
type Object struct {
	client *minio.Client
	bucket string
	public string
}

// NewObject creates the object-store backend and ensures the bucket exists.
func NewObject(ctx context.Context, cfg ObjectConfig) (*Object, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	public := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &Object{client: client, bucket: cfg.Bucket, public: public}, nil
}

func (o *Object) Put(ctx context.Context, logicalPath string, data []byte) (string, error) {
	key := strings.TrimPrefix(logicalPath, "/")
	_, err := o.client.PutObject(ctx, o.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "audio/mpeg"})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return o.public + "/" + key, nil
}

func (o *Object) Get(ctx context.Context, rawURL string) ([]byte, error) {
	key, err := o.keyFromURL(rawURL)
	if err != nil {
		return nil, err
	}
	obj, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (o *Object) keyFromURL(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, o.public+"/") {
		return strings.TrimPrefix(rawURL, o.public+"/"), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse audio url: %w", err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	key = strings.TrimPrefix(key, o.bucket+"/")
	if key == "" {
		return "", fmt.Errorf("audio url carries no object key: %s", rawURL)
	}
	return key, nil
}

var _ Store = (*Object)(nil)
