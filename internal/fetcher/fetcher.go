// Package fetcher resolves a configured export location to a local file.
// Sources may point at a path on disk, an http(s) URL or an ftp URL (PubMed
// baseline exports are commonly mirrored over FTP).
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/litstack/litreview/internal/resilience"
)

// Fetcher materializes export locations as local files.
type Fetcher struct {
	httpTimeout time.Duration
	ftpTimeout  time.Duration
	retry       resilience.RetryConfig
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRetry overrides the download retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(f *Fetcher) {
		f.retry = cfg
	}
}

// New returns a Fetcher with default timeouts.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpTimeout: 2 * time.Minute,
		ftpTimeout:  30 * time.Second,
		retry:       resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch resolves location to a readable local file and returns its path.
// Local paths pass through untouched; remote URLs are downloaded into
// destDir with retry for transient failures.
func (f *Fetcher) Fetch(ctx context.Context, location, destDir string) (string, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return f.download(ctx, location, destDir, f.fetchHTTP)
	case strings.HasPrefix(location, "ftp://"):
		return f.download(ctx, location, destDir, f.fetchFTP)
	}

	if _, err := os.Stat(location); err != nil {
		return "", eris.Wrapf(err, "fetcher: local file %s", location)
	}
	return location, nil
}

func (f *Fetcher) download(ctx context.Context, location, destDir string,
	open func(ctx context.Context, location string) (io.ReadCloser, error)) (string, error) {

	dest := filepath.Join(destDir, remoteFilename(location))

	err := resilience.Do(ctx, f.retry, func(ctx context.Context) error {
		rc, err := open(ctx, location)
		if err != nil {
			return err
		}
		defer rc.Close()

		file, err := os.Create(dest)
		if err != nil {
			return eris.Wrap(err, "fetcher: create destination")
		}
		defer file.Close()

		n, err := io.Copy(file, rc)
		if err != nil {
			return eris.Wrap(err, "fetcher: write destination")
		}
		zap.L().Info("downloaded export",
			zap.String("location", location),
			zap.String("dest", dest),
			zap.Int64("bytes", n),
		)
		return nil
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// remoteFilename derives a destination filename from the URL path.
func remoteFilename(location string) string {
	u, err := url.Parse(location)
	if err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "export.txt"
}
