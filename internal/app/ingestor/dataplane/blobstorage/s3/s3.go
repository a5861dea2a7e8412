package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	uuid "github.com/satori/go.uuid"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//Config to set up an S3 blob provider
type Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"usepathstyle"`
}

//BlobStorage stores artifacts in an S3 bucket
type BlobStorage struct {
	client *awss3.Client
	bucket string
	prefix string
}

//NewBlobStorage creates a new S3 blob provider using the ambient AWS
//configuration (env, shared config, instance role)
func NewBlobStorage(ctx context.Context, config *Config) (*BlobStorage, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 blob provider requires a bucket name")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	client := awss3.New(awss3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
		UsePathStyle: config.UsePathStyle,
	})
	return &BlobStorage{client: client, bucket: config.Bucket, prefix: config.Prefix}, nil
}

//Put uploads a payload and returns its artifact reference
func (s *BlobStorage) Put(ctx context.Context, data []byte) (string, error) {
	ref := uuid.NewV4().String()
	key := s.key(ref)
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
		ACL:    types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", medical.WrapTimeout("blob put", fmt.Errorf("error uploading artifact to s3://%s/%s: %w", s.bucket, key, err))
	}
	return ref, nil
}

//Get downloads an artifact payload
func (s *BlobStorage) Get(ctx context.Context, ref string) ([]byte, error) {
	key := s.key(ref)
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &medical.NotFoundError{Kind: "artifact", ID: ref}
		}
		return nil, medical.WrapTimeout("blob get", fmt.Errorf("error downloading artifact s3://%s/%s: %w", s.bucket, key, err))
	}
	defer out.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading artifact body s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

//Delete removes an artifact from the bucket
func (s *BlobStorage) Delete(ctx context.Context, ref string) error {
	key := s.key(ref)
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return medical.WrapTimeout("blob delete", fmt.Errorf("error deleting artifact s3://%s/%s: %w", s.bucket, key, err))
	}
	return nil
}

//Close cleans up any external resources
func (s *BlobStorage) Close() {
}

func (s *BlobStorage) key(ref string) string {
	if s.prefix == "" {
		return ref
	}
	return path.Join(s.prefix, ref)
}
