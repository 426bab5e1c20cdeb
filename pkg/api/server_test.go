package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/domain"
	"github.com/marmos91/dittostash/pkg/manager"
	contentfs "github.com/marmos91/dittostash/pkg/store/content/fs"
	"github.com/marmos91/dittostash/pkg/store/metadata"
	"github.com/marmos91/dittostash/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	t       *testing.T
	app     *fiber.App
	mgr     *manager.Manager
	staging string
}

func newAPIEnv(t *testing.T, opts Options) *apiEnv {
	t.Helper()
	ctx := context.Background()
	base := t.TempDir()

	store := memory.NewMemoryMetadataStore()
	t.Cleanup(func() { _ = store.Close() })

	_, err := domain.Seed(ctx, store, []domain.Spec{
		{ID: "media", Name: "Media"},
		{ID: "images", Name: "Images", Parent: "media"},
	})
	require.NoError(t, err)
	idx, err := domain.Load(ctx, store)
	require.NoError(t, err)

	cs, err := contentfs.NewFSContentStore(ctx, filepath.Join(base, "Storage"))
	require.NoError(t, err)

	mgr, err := manager.New(manager.Options{Store: store, Content: cs, Domains: idx})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	staging := filepath.Join(base, "staging")
	require.NoError(t, os.MkdirAll(staging, 0755))

	opts.Service = mgr
	opts.StagingDir = staging
	app, err := NewApp(opts)
	require.NoError(t, err)

	return &apiEnv{t: t, app: app, mgr: mgr, staging: staging}
}

func (e *apiEnv) stage(name string, size int) string {
	e.t.Helper()
	path := filepath.Join(e.staging, name)
	require.NoError(e.t, os.WriteFile(path, []byte(strings.Repeat("z", size)), 0644))
	return path
}

func (e *apiEnv) do(method, target string, body any) (*http.Response, []byte) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp, data
}

func (e *apiEnv) register(body map[string]any) (*http.Response, *metadata.Resource) {
	e.t.Helper()
	resp, data := e.do(http.MethodPost, "/v1/domains/images/resources", body)
	var res metadata.Resource
	if resp.StatusCode < 300 {
		require.NoError(e.t, json.Unmarshal(data, &res))
	}
	return resp, &res
}

func decodeError(t *testing.T, data []byte) errorPayload {
	t.Helper()
	var payload errorPayload
	require.NoError(t, json.Unmarshal(data, &payload), string(data))
	return payload
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp, data := env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestRegisterThenLookup(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp, created := env.register(map[string]any{
		"staged_path":      env.stage("dl-1", 10),
		"source_reference": "http://x/y.png",
		"purge_priority":   1,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, int64(10), created.Size)
	assert.True(t, strings.HasSuffix(created.Path, filepath.Join("Media", "Images", created.UUID.String()+"-y.png")))

	resp, data := env.do(http.MethodGet, "/v1/domains/images/lookup?source=http://x/y.png", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(data))
	var found metadata.Resource
	require.NoError(t, json.Unmarshal(data, &found))
	assert.Equal(t, created.UUID, found.UUID)

	// Same source again updates in place.
	resp, updated := env.register(map[string]any{
		"staged_path":      env.stage("dl-2", 25),
		"source_reference": "http://x/y.png",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, created.UUID, updated.UUID)
	assert.Equal(t, created.Path, updated.Path)
	assert.Equal(t, int64(25), updated.Size)

	resp, data = env.do(http.MethodGet, "/v1/domains/images/lookup?uuid="+created.UUID.String(), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(data))
}

func TestLookupNoMatch(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp, data := env.do(http.MethodGet, "/v1/domains/images/lookup?source=missing", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_match", decodeError(t, data).Error)
}

func TestUnknownDomain(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp, data := env.do(http.MethodGet, "/v1/domains/nope/lookup?source=x", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Error)

	resp, _ = env.do(http.MethodGet, "/v1/domains/nope/resources", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestLookupConflictListsMatches(t *testing.T) {
	env := newAPIEnv(t, Options{})

	for i, version := range []string{"1", "2"} {
		resp, _ := env.register(map[string]any{
			"staged_path":      env.stage(fmt.Sprintf("v%d", i), 5),
			"source_reference": "http://x/lib.tar",
			"version":          version,
		})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, data := env.do(http.MethodGet, "/v1/domains/images/lookup?source=http://x/lib.tar", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	payload := decodeError(t, data)
	assert.Equal(t, "conflict", payload.Error)
	assert.Len(t, payload.Matches, 2)

	resp, _ = env.do(http.MethodGet, "/v1/domains/images/lookup?source=http://x/lib.tar&version=2", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestInvalidArguments(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp, data := env.do(http.MethodGet, "/v1/domains/images/lookup?uuid=not-a-uuid", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", decodeError(t, data).Error)

	resp, _ = env.register(map[string]any{"staged_path": env.stage("neg", 1), "purge_priority": -1})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/v1/domains/images/resources", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	raw, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, raw.StatusCode)

	resp, _ = env.do(http.MethodDelete, "/v1/domains/images/resources/xyz", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRegisterConfinedToStagingDir(t *testing.T) {
	env := newAPIEnv(t, Options{})

	_, existing := env.register(map[string]any{"staged_path": env.stage("keep.bin", 4)})
	require.NotEmpty(t, existing.Path)

	outside := filepath.Join(t.TempDir(), "elsewhere.bin")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))

	link := filepath.Join(env.staging, "link.bin")
	require.NoError(t, os.Symlink(existing.Path, link))

	tests := []struct {
		name string
		path string
	}{
		{"missing", ""},
		{"relative", "staging/keep.bin"},
		{"outside staging dir", outside},
		{"dot-dot escape", filepath.Join(env.staging, "..", "elsewhere.bin")},
		{"staging dir itself", env.staging},
		{"existing resource file", existing.Path},
		{"symlink to resource file", link},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := env.do(http.MethodPost, "/v1/domains/images/resources", map[string]any{
				"staged_path":      tt.path,
				"source_reference": "http://x/" + tt.name,
			})
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, string(data))
			assert.Equal(t, "invalid_argument", decodeError(t, data).Error)
		})
	}

	info, err := os.Stat(existing.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
	_, err = os.Stat(outside)
	assert.NoError(t, err)

	usage, err := env.mgr.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage.Total)
}

func TestPurgeAndList(t *testing.T) {
	env := newAPIEnv(t, Options{})

	_, res := env.register(map[string]any{"staged_path": env.stage("a.bin", 7)})

	resp, data := env.do(http.MethodGet, "/v1/domains/images/resources", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var listed struct {
		Resources []*metadata.Resource `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(data, &listed))
	require.Len(t, listed.Resources, 1)

	resp, data = env.do(http.MethodDelete, "/v1/domains/images/resources/"+res.UUID.String(), nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(data))
	_, err := os.Stat(res.Path)
	assert.True(t, os.IsNotExist(err))

	resp, data = env.do(http.MethodGet, "/v1/domains/images/resources", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"resources":[]}`, string(data))

	resp, _ = env.do(http.MethodDelete, "/v1/domains/images/resources/"+uuid.NewString(), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestUsageAndDomains(t *testing.T) {
	env := newAPIEnv(t, Options{})
	env.register(map[string]any{"staged_path": env.stage("u", 12)})

	resp, data := env.do(http.MethodGet, "/v1/usage", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var usage manager.Usage
	require.NoError(t, json.Unmarshal(data, &usage))
	assert.Equal(t, int64(12), usage.Total)
	assert.Len(t, usage.Domains, 2)

	resp, data = env.do(http.MethodGet, "/v1/domains", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var domains struct {
		Domains []domainPayload `json:"domains"`
	}
	require.NoError(t, json.Unmarshal(data, &domains))
	require.Len(t, domains.Domains, 2)
	assert.Equal(t, "images", domains.Domains[0].ID)
	assert.Equal(t, []string{"Media", "Images"}, domains.Domains[0].Path)
}

func TestRateLimit(t *testing.T) {
	env := newAPIEnv(t, Options{RequestsPerSecond: 0.01, Burst: 1})

	resp, _ := env.do(http.MethodGet, "/v1/usage", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, data := env.do(http.MethodGet, "/v1/usage", nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, data).Error)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))

	// Health checks are not throttled.
	resp, _ = env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	env := newAPIEnv(t, Options{})

	resp, data := env.do(http.MethodGet, "/v2/whatever", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "http_error", decodeError(t, data).Error)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"busy", &metadata.StoreError{Code: metadata.ErrBusy, Message: "full"}, fiber.StatusServiceUnavailable, "busy"},
		{"closed", metadata.NewClosedError("manager"), fiber.StatusServiceUnavailable, "closed"},
		{"capacity", metadata.NewCapacityError("no space", "x"), fiber.StatusInsufficientStorage, "capacity_exceeded"},
		{"io", metadata.NewIOError("move", "p", io.ErrUnexpectedEOF), fiber.StatusInternalServerError, "io_failure"},
		{"timeout", fmt.Errorf("wait: %w", context.DeadlineExceeded), fiber.StatusGatewayTimeout, "timeout"},
		{"plain", io.EOF, fiber.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := translate(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, payload.Error)
		})
	}
}

func TestNewServerRequiresListen(t *testing.T) {
	_, err := NewServer(Options{Service: &manager.Manager{}})
	assert.Error(t, err)

	_, err = NewApp(Options{})
	assert.Error(t, err)

	_, err = NewApp(Options{Service: &manager.Manager{}})
	assert.Error(t, err, "staging directory is required")
}
