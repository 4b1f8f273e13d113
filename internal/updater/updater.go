// Package updater downloads release packages announced by update descriptors.
package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/itelic/itelic-updater/internal/updates"
	"github.com/rs/zerolog"
)

// DownloadTimeout is the timeout for downloading packages.
const DownloadTimeout = 5 * time.Minute

// ErrNoPackage is returned when a descriptor carries no package URL.
var ErrNoPackage = errors.New("update has no package URL")

// Result describes a downloaded package.
type Result struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Updater fetches release packages.
type Updater struct {
	client *http.Client
	logger zerolog.Logger
}

// New creates an Updater. A nil client gets a plain client with
// DownloadTimeout.
func New(client *http.Client, logger zerolog.Logger) *Updater {
	if client == nil {
		client = &http.Client{Timeout: DownloadTimeout}
	}
	return &Updater{
		client: client,
		logger: logger.With().Str("component", "updater").Logger(),
	}
}

// Download fetches the package of d into dir and returns where it was stored
// along with its SHA-256. progress, when set, is called as bytes arrive with
// the total size, or -1 when unknown.
func (u *Updater) Download(ctx context.Context, d updates.Descriptor, dir string, progress func(downloaded, total int64)) (*Result, error) {
	if d.Package == "" {
		return nil, ErrNoPackage
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Package, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".itelic-download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer tmpFile.Close()

	h := sha256.New()
	w := io.MultiWriter(tmpFile, h)

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("write temp file: %w", writeErr)
			}
			downloaded += int64(n)
			if progress != nil {
				progress(downloaded, resp.ContentLength)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			os.Remove(tmpFile.Name())
			return nil, fmt.Errorf("read download: %w", err)
		}
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	target := filepath.Join(dir, PackageFileName(d))
	if err := os.Rename(tmpFile.Name(), target); err != nil {
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("move package into place: %w", err)
	}

	result := &Result{
		Path:   target,
		Size:   downloaded,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}

	u.logger.Info().
		Str("version", d.NewVersion).
		Str("path", result.Path).
		Int64("size", result.Size).
		Str("sha256", result.SHA256).
		Msg("package downloaded")

	return result, nil
}

// PackageFileName returns the file name a package is stored under: the last
// path segment of the package URL, or <slug>-<version>.zip when the URL has
// none.
func PackageFileName(d updates.Descriptor) string {
	if u, err := url.Parse(d.Package); err == nil {
		name := path.Base(u.Path)
		if name != "." && name != "/" && name != "" && !strings.HasPrefix(name, ".") {
			return name
		}
	}

	slug := d.Slug
	if slug == "" {
		slug = "package"
	}
	return fmt.Sprintf("%s-%s.zip", slug, d.NewVersion)
}

// ComputeSHA256 computes the SHA256 hash of a file.
func ComputeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
