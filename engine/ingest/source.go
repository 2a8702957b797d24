package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
	"github.com/FloatChatAI/floatchat-engine/pkg/fn"
)

// Source lists and downloads raw profile files.
type Source interface {
	// List returns candidate filenames at the remote source.
	List(ctx context.Context) ([]string, error)
	// Fetch downloads one file into dir and returns its local path.
	Fetch(ctx context.Context, name, dir string) (string, error)
}

// hrefPattern extracts .nc links from a directory-style index page, the
// layout data-assembly mirrors serve.
var hrefPattern = regexp.MustCompile(`href="([^"/]+\.nc)"`)

// HTTPSource fetches profile files from an HTTP directory listing.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a source over one remote directory.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// List fetches the index page and returns the .nc filenames it links.
func (s *HTTPSource) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: s.baseURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, &domain.FetchError{URL: s.baseURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &domain.FetchError{URL: s.baseURL, Err: err}
	}
	links := hrefPattern.FindAllStringSubmatch(string(body), -1)
	return fn.Unique(fn.Map(links, func(m []string) string { return m[1] })), nil
}

// Fetch downloads one file into dir.
func (s *HTTPSource) Fetch(ctx context.Context, name, dir string) (string, error) {
	url := s.baseURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", &domain.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", &domain.FetchError{URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", &domain.FetchError{URL: url, Err: err}
	}
	return path, nil
}

// Checksum returns the hex sha256 of a downloaded file's content. Files are
// content addressed so a renamed copy of an ingested file is still a no-op.
func Checksum(path string) (string, error) {
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
