package artifact_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsergate/browsergate/internal/artifact"
	"github.com/browsergate/browsergate/pkg/models"
)

func newHTTPFixture(t *testing.T, authRequired bool) (*httptest.Server, *artifact.Manager) {
	t.Helper()
	m, _ := newManager(t, 1024)
	srv := artifact.NewHTTPServer(m, "secret", authRequired)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func TestServeArtifact(t *testing.T) {
	ts, m := newHTTPFixture(t, false)
	_, err := m.Store("acme", models.ArtifactScreenshot, "shot.png", []byte("png-data"))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/artifacts/acme/shot.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-data"), body)
}

func TestListArtifactsOverHTTP(t *testing.T) {
	ts, m := newHTTPFixture(t, false)
	_, err := m.Store("acme", models.ArtifactScreenshot, "shot.png", []byte("x"))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/artifacts/acme")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Artifacts []models.ArtifactRef `json:"artifacts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Artifacts, 1)
	assert.Equal(t, "shot.png", payload.Artifacts[0].Path)
}

func TestBearerTokenRequired(t *testing.T) {
	ts, m := newHTTPFixture(t, true)
	_, err := m.Store("acme", models.ArtifactScreenshot, "shot.png", []byte("x"))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/artifacts/acme/shot.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest("GET", ts.URL+"/artifacts/acme/shot.png", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The token query parameter works for plain link sharing.
	resp, err = http.Get(ts.URL + "/artifacts/acme/shot.png?token=secret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingArtifact404(t *testing.T) {
	ts, _ := newHTTPFixture(t, false)

	resp, err := http.Get(ts.URL + "/artifacts/acme/absent.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	ts, _ := newHTTPFixture(t, true)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
