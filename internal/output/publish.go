package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cihub/internal/engine"
)

// PublishConfig addresses an S3-compatible bucket for report uploads.
type PublishConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
	Timeout   time.Duration
}

func (c PublishConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("publish endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("publish endpoint must be host[:port], without a scheme (got %q)", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("publish bucket is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("publish credentials are required")
	}
	return nil
}

// NewMinIOClient builds the object store client for cfg.
func NewMinIOClient(cfg PublishConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ObjectPutter is the subset of *minio.Client the publisher needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// PublishSink uploads the AggregateReport on Close to
// <prefix>/<invocation>/<attempt>/report.json.
type PublishSink struct {
	ctx     context.Context
	client  ObjectPutter
	bucket  string
	prefix  string
	timeout time.Duration

	mu     sync.Mutex
	report *engine.AggregateReport
	key    string
}

func NewPublishSink(ctx context.Context, client ObjectPutter, cfg PublishConfig) (*PublishSink, error) {
	if client == nil {
		return nil, fmt.Errorf("publish client must not be nil")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("publish bucket is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PublishSink{
		ctx:     ctx,
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: timeout,
	}, nil
}

func (s *PublishSink) Write(v any) error {
	if rep, ok := v.(*engine.AggregateReport); ok {
		s.mu.Lock()
		s.report = rep
		s.mu.Unlock()
	}
	return nil
}

// ObjectKey returns the key of the last upload, empty before Close.
func (s *PublishSink) ObjectKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *PublishSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return nil
	}

	body, err := json.MarshalIndent(s.report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := path.Join(s.prefix, s.report.InvocationID, strconv.Itoa(s.report.Attempt), "report.json")

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("publish report to %s/%s: %w", s.bucket, key, err)
	}
	s.key = key
	return nil
}

var _ ObjectPutter = (*minio.Client)(nil)
