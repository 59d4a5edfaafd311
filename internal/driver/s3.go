package driver

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sshz/workbin-syncer/internal/failure"
	"github.com/sshz/workbin-syncer/pkg/models"
)

// s3MaxObjectSize is the S3 single-PUT hard ceiling.
const s3MaxObjectSize = 5 * 1024 * 1024 * 1024

// S3 mirrors files into an S3-compatible bucket. Settings keys: endpoint,
// access_key, secret_key, bucket, root. Object overwrite is naturally
// idempotent, so no revision cursor is needed.
type S3 struct {
	logger    *slog.Logger
	transport *http.Transport
}

func newS3(logger *slog.Logger) *S3 {
	return &S3{
		logger: logger,
		transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func (d *S3) Name() string { return "s3" }

func (d *S3) MaxFileSize() int64 { return s3MaxObjectSize }

func (d *S3) ValidateSettings(ctx context.Context, settings *models.TargetSettings) error {
	client, err := d.client(settings)
	if err != nil {
		return err
	}
	bucket := settings.Get("bucket")
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return d.classify(err)
	}
	if !exists {
		return failure.CredentialExpired("s3", fmt.Errorf("bucket %q not found", bucket))
	}
	return nil
}

func (d *S3) Transfer(ctx context.Context, settings *models.TargetSettings, obj Object) error {
	client, err := d.client(settings)
	if err != nil {
		return err
	}

	body, err := obj.Open(ctx)
	if err != nil {
		return failure.UpstreamUnknown(fmt.Errorf("fetch %s: %w", obj.Path, err))
	}
	defer body.Close()

	key := objectKey(settings.Get("root"), obj.Path)
	_, err = client.PutObject(ctx, settings.Get("bucket"), key, body, obj.Size, minio.PutObjectOptions{})
	if err != nil {
		return d.classify(err)
	}
	d.logger.Debug("uploaded object", slog.String("bucket", settings.Get("bucket")), slog.String("key", key))
	return nil
}

// client builds a minio client from user settings. Missing keys are a
// settings problem, reported as a classified failure.
func (d *S3) client(settings *models.TargetSettings) (*minio.Client, error) {
	endpoint := settings.Get("endpoint")
	accessKey := settings.Get("access_key")
	secretKey := settings.Get("secret_key")
	if endpoint == "" || accessKey == "" || secretKey == "" || settings.Get("bucket") == "" {
		return nil, failure.CredentialExpired("s3", fmt.Errorf("incomplete s3 settings"))
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       true,
		Transport:    d.transport,
		Region:       "auto",
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, failure.CredentialExpired("s3", err)
	}
	return client, nil
}

// classify maps minio error codes onto the failure quad.
func (d *S3) classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
		return failure.CredentialExpired("s3", err)
	case "NoSuchBucket":
		return failure.CredentialExpired("s3", err)
	case "QuotaExceeded", "SlowDown", "TooManyRequests":
		return failure.QuotaExceeded("s3", err)
	case "MalformedXML", "InvalidArgument", "InvalidRequest":
		return failure.MalformedRequest(err)
	default:
		return failure.UpstreamUnknown(err)
	}
}

func objectKey(root, path string) string {
	root = strings.Trim(root, "/")
	path = strings.TrimPrefix(path, "/")
	if root == "" {
		return path
	}
	return root + "/" + path
}
