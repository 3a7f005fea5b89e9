package retention

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStoreUploader abstracts the object-store backend a backup is shipped
// to. Implementations must be safe for concurrent use.
type ObjectStoreUploader interface {
	Upload(ctx context.Context, key, filePath string) error
}

// S3Uploader uploads backup files to any S3-compatible endpoint (AWS,
// MinIO, Hetzner, LakeFS), grounded on the teacher's HetznerUploadFile
// multipart-safe upload pattern: a shared *manager.Uploader built once over
// a custom endpoint resolver, with an MD5 integrity hash stamped onto each
// object's metadata.
type S3Uploader struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Uploader builds an uploader against url (empty for real AWS S3) using
// static credentials, following the teacher's config.WithEndpointResolverWithOptions
// pattern for non-AWS S3-compatible endpoints.
func NewS3Uploader(ctx context.Context, url, region, accessKey, secretKey, bucket string) (*S3Uploader, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	}
	if url != "" {
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: url, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{bucket: bucket, uploader: manager.NewUploader(client)}, nil
}

// Upload streams filePath to key, stamping its MD5 hash as object metadata
// for later change detection.
func (u *S3Uploader) Upload(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer file.Close()

	md5hash, err := calculateMD5(filePath)
	if err != nil {
		return fmt.Errorf("md5 %s: %w", filePath, err)
	}

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		Body:     file,
		Metadata: map[string]string{"md5": md5hash},
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s: %w", filePath, key, err)
	}
	return nil
}

// calculateMD5 returns the hex-encoded MD5 digest of the file at path,
// grounded on the teacher's storage.CalculateMD5 helper.
func calculateMD5(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for md5: %w", path, err)
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
