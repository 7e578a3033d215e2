package relay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures the S3-compatible backend. PublicURL is the base
// under which bucket objects are served to browsers; it defaults to the
// endpoint itself.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

// MinIOBackend stores uploads as objects in a single bucket. The upload
// preset, when set, is used as the key prefix.
type MinIOBackend struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// host:port without a scheme is treated as plain http.
	return raw, false, nil
}

// NewMinIOBackend connects to the endpoint and checks that the bucket exists.
func NewMinIOBackend(ctx context.Context, cfg MinIOConfig) (*MinIOBackend, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	b := &MinIOBackend{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
	if b.publicURL == "" {
		b.publicURL = strings.TrimRight(client.EndpointURL().String(), "/")
	}

	if err := b.Ping(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *MinIOBackend) Name() string { return "minio" }

// Upload writes the raw bytes under a fresh key and describes the object the
// way the hosted vendor would: public id without extension, format from the
// MIME type, pixel size when the content is a decodable image.
func (b *MinIOBackend) Upload(ctx context.Context, asset Asset) (*VendorResponse, error) {
	format := formatFor(asset.MimeType)
	publicID := objectPublicID(asset.UploadPreset, uuid.NewString())
	key := publicID
	if format != "" {
		key += "." + format
	}

	_, err := b.client.PutObject(
		ctx,
		b.bucket,
		key,
		bytes.NewReader(asset.Data),
		int64(len(asset.Data)),
		minio.PutObjectOptions{ContentType: asset.MimeType},
	)
	if err != nil {
		msg := minio.ToErrorResponse(err).Message
		if msg == "" {
			msg = err.Error()
		}
		return nil, &UpstreamError{Backend: b.Name(), Message: msg, Err: err}
	}

	width, height := imageDimensions(asset.Data)
	return &VendorResponse{
		SecureURL: b.objectURL(key),
		PublicID:  publicID,
		Format:    format,
		Width:     width,
		Height:    height,
	}, nil
}

// Ping checks the bucket is reachable.
func (b *MinIOBackend) Ping(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return &UpstreamError{Backend: b.Name(), Message: err.Error(), Err: err}
	}
	if !exists {
		return &UpstreamError{Backend: b.Name(), Message: "minio bucket does not exist: " + b.bucket}
	}
	return nil
}

func (b *MinIOBackend) objectURL(key string) string {
	return b.publicURL + "/" + path.Join(b.bucket, key)
}

func objectPublicID(prefix, id string) string {
	prefix = strings.Trim(prefix, "/ ")
	if prefix == "" {
		return id
	}
	return prefix + "/" + id
}

// imageDimensions returns 0, 0 for content the standard decoders can't read.
func imageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
