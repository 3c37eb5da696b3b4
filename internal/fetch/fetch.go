package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/schollz/progressbar/v3"

	"github.com/oshokin/mpfr-recipe/internal/logger"
)

var (
	errBadHTTPStatus     = errors.New("unexpected http status")
	errChecksumMismatch  = errors.New("checksum mismatch")
	errSignatureTooLarge = errors.New("signature too large")
	errBadSignature      = errors.New("signature verification failed")
)

const (
	// maxSignatureSize bounds the detached signature download.
	maxSignatureSize = 64 << 10

	defaultDirPermissions = 0o755
)

// Options control verification of a single download.
type Options struct {
	// SHA256 is the expected hex digest of the archive; empty skips the check.
	SHA256 string
	// Keyring is an armored public keyring file; empty skips signature verification.
	Keyring string
	// SignatureURL is the detached armored signature; defaults to "<url>.asc".
	SignatureURL string
}

// Client downloads and unpacks archives.
type Client struct {
	http     *http.Client
	progress io.Writer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithProgress renders a download progress bar to w.
func WithProgress(w io.Writer) Option {
	return func(cl *Client) {
		cl.progress = w
	}
}

// NewClient creates a Client with a TLS 1.2+ transport and the given overall timeout.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: true,
	}

	c := &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get downloads rawURL, verifies it according to opts and extracts it into dest.
func (c *Client) Get(ctx context.Context, rawURL, dest string, opts Options) error {
	name, err := archiveName(rawURL)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(dest, defaultDirPermissions); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	archive, err := os.CreateTemp(filepath.Dir(filepath.Clean(dest)), "."+name+"-*")
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}

	archivePath := archive.Name()

	defer func() {
		_ = archive.Close()
		_ = os.Remove(archivePath)
	}()

	logger.InfoKV(ctx, "Downloading", "url", rawURL)

	digest, err := c.download(ctx, rawURL, name, archive)
	if err != nil {
		return err
	}

	if opts.SHA256 != "" && !strings.EqualFold(opts.SHA256, digest) {
		return fmt.Errorf("%s: %w: want %s, got %s", name, errChecksumMismatch, opts.SHA256, digest)
	}

	logger.DebugKV(ctx, "Downloaded", "file", name, "sha256", digest)

	if opts.Keyring != "" {
		if err = c.verifySignature(ctx, rawURL, archivePath, opts); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Extracting", "file", name, "dest", dest)

	if err = Extract(archivePath, name, dest); err != nil {
		return fmt.Errorf("extract %s: %w", name, err)
	}

	return nil
}

// download writes the body of rawURL to w and returns its hex SHA-256 digest.
func (c *Client) download(ctx context.Context, rawURL, name string, w io.Writer) (string, error) {
	resp, err := c.request(ctx, rawURL)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	hasher := sha256.New()
	writers := []io.Writer{w, hasher}

	var bar *progressbar.ProgressBar
	if c.progress != nil && resp.ContentLength > 0 {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(c.progress),
			progressbar.OptionSetDescription("downloading "+name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		writers = append(writers, bar)
	}

	if _, err = io.Copy(io.MultiWriter(writers...), resp.Body); err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	return hexDigest(hasher), nil
}

func (c *Client) verifySignature(ctx context.Context, rawURL, archivePath string, opts Options) error {
	sigURL := opts.SignatureURL
	if sigURL == "" {
		sigURL = rawURL + ".asc"
	}

	logger.InfoKV(ctx, "Verifying signature", "signature", sigURL, "keyring", opts.Keyring)

	resp, err := c.request(ctx, sigURL)
	if err != nil {
		return err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	signature, err := io.ReadAll(io.LimitReader(resp.Body, maxSignatureSize+1))
	if err != nil {
		return fmt.Errorf("download signature: %w", err)
	}

	if len(signature) > maxSignatureSize {
		return errSignatureTooLarge
	}

	keyringFile, err := os.Open(filepath.Clean(opts.Keyring))
	if err != nil {
		return fmt.Errorf("open keyring: %w", err)
	}

	defer func() {
		_ = keyringFile.Close()
	}()

	keyring, err := openpgp.ReadArmoredKeyRing(keyringFile)
	if err != nil {
		return fmt.Errorf("read keyring: %w", err)
	}

	archive, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = archive.Close()
	}()

	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, archive, bytes.NewReader(signature), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", errBadSignature, err)
	}

	if signer != nil && signer.PrimaryKey != nil {
		logger.InfoKV(ctx, "Good signature", "key_id", signer.PrimaryKey.KeyIdString())
	}

	return nil
}

func (c *Client) request(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", rawURL, resp.Status, errBadHTTPStatus)
	}

	return resp, nil
}

func archiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "", fmt.Errorf("%s: %w", rawURL, ErrUnsupportedArchive)
	}

	return name, nil
}

func hexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
