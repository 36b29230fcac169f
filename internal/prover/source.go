package prover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrArtifactNotFound is returned when a source has no blob for a name.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrInvalidArtifactName rejects names that are not a single path element.
	ErrInvalidArtifactName = errors.New("invalid artifact name")
)

// ArtifactSource fetches circuit artifacts by their stable name.
type ArtifactSource interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// DirSource reads artifacts from a local directory.
type DirSource struct {
	Dir string
}

// Fetch implements ArtifactSource.
func (s DirSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}

// HTTPSource fetches artifacts relative to a base URL, e.g.
// http://127.0.0.1:17890/zk/.
type HTTPSource struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPSource returns an HTTPSource with a bounded client timeout.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Fetch implements ArtifactSource.
func (s *HTTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse artifact base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	target := base.ResolveReference(&url.URL{Path: name})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch artifact %s: HTTP %d", name, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w %q", ErrInvalidArtifactName, name)
	}
	return nil
}
