/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/friendsincode/voxqueue/internal/transport"
)

// ErrDownload is wrapped by every download failure.
var ErrDownload = errors.New("media download failed")

// Downloader fetches a pending-download reference into local storage and
// returns the local path.
type Downloader interface {
	Download(ctx context.Context, ref string, kind transport.StreamKind) (string, error)
}

// objectGetter is the subset of *s3.Client used for s3:// references.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures access to s3:// references.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // S3-compatible services (MinIO, Spaces)
	UsePathStyle    bool
}

// NewS3Client builds an S3 client from static or ambient AWS credentials.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// FetchDownloader stores http(s) and s3 references under a media root.
// Local paths are accepted only when they already exist under the root.
type FetchDownloader struct {
	root   string
	client *http.Client
	s3     objectGetter
	logger zerolog.Logger
}

// NewFetchDownloader creates a downloader writing into root. s3Client may be
// nil, in which case s3:// references fail.
func NewFetchDownloader(root string, s3Client *s3.Client, logger zerolog.Logger) *FetchDownloader {
	d := &FetchDownloader{
		root:   root,
		client: &http.Client{Timeout: 10 * time.Minute},
		logger: logger.With().Str("component", "media_downloader").Logger(),
	}
	if s3Client != nil {
		d.s3 = s3Client
	}
	return d
}

// Root returns the media root directory.
func (d *FetchDownloader) Root() string {
	return d.root
}

func (d *FetchDownloader) Download(ctx context.Context, ref string, kind transport.StreamKind) (string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		local, rootErr := withinRoot(d.root, ref)
		if rootErr != nil {
			d.logger.Warn().Str("ref", ref).Msg("rejected local path outside media root")
			return "", fmt.Errorf("%w: %w", ErrDownload, rootErr)
		}
		if _, statErr := os.Stat(local); statErr == nil {
			return local, nil
		}
		return "", fmt.Errorf("%w: unsupported reference %q", ErrDownload, ref)
	}

	dest := filepath.Join(d.root, localName(ref, kind, path.Ext(u.Path)))
	if _, err := os.Stat(dest); err == nil {
		d.logger.Debug().Str("ref", ref).Str("path", dest).Msg("download already present")
		return dest, nil
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		body, err = d.openHTTP(ctx, ref)
	case "s3":
		body, err = d.openS3(ctx, u)
	default:
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer body.Close()

	start := time.Now()
	n, err := writeAtomic(dest, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}

	d.logger.Info().
		Str("ref", ref).
		Str("path", dest).
		Int64("bytes", n).
		Dur("took", time.Since(start)).
		Msg("media downloaded")
	return dest, nil
}

func (d *FetchDownloader) openHTTP(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", ref, resp.StatusCode)
	}
	return resp.Body, nil
}

func (d *FetchDownloader) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if d.s3 == nil {
		return nil, errors.New("s3 is not configured")
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, fmt.Errorf("s3 reference must be s3://bucket/key")
	}
	out, err := d.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", u.Host, key, err)
	}
	return out.Body, nil
}

// localName derives a stable file name so repeated downloads of the same
// reference hit the cache.
func localName(ref string, kind transport.StreamKind, ext string) string {
	h := fnv.New64a()
	h.Write([]byte(ref))
	if ext == "" || len(ext) > 6 {
		ext = ".media"
	}
	return fmt.Sprintf("%s-%016x%s", kind.String(), h.Sum64(), ext)
}

func writeAtomic(dest string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename file: %w", err)
	}
	return n, nil
}
