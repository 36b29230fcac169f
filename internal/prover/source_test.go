package prover

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "captcha.r1cs"), []byte("r1cs"), 0o644))
	src := DirSource{Dir: dir}

	data, err := src.Fetch(context.Background(), "captcha.r1cs")
	require.NoError(t, err)
	assert.Equal(t, []byte("r1cs"), data)

	_, err = src.Fetch(context.Background(), "missing.pk")
	assert.True(t, errors.Is(err, ErrArtifactNotFound))

	for _, name := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, err = src.Fetch(context.Background(), name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestHTTPSource(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/zk/captcha_final.pk":
			w.Write([]byte("pk-bytes"))
		case "/zk/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	for _, base := range []string{server.URL + "/zk/", server.URL + "/zk"} {
		src := NewHTTPSource(base)
		data, err := src.Fetch(context.Background(), "captcha_final.pk")
		require.NoError(t, err, "base %s", base)
		assert.Equal(t, []byte("pk-bytes"), data)
	}
	assert.Equal(t, []string{"/zk/captcha_final.pk", "/zk/captcha_final.pk"}, paths)

	src := NewHTTPSource(server.URL + "/zk/")
	_, err := src.Fetch(context.Background(), "nope.r1cs")
	assert.True(t, errors.Is(err, ErrArtifactNotFound))

	_, err = src.Fetch(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestHTTPSourceHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPSource(server.URL).Fetch(ctx, "captcha.r1cs")
	assert.ErrorIs(t, err, context.Canceled)
}
