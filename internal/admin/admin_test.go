package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vmio/internal/attr"
	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/config"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/hostenv"
	"github.com/GriffinCanCode/vmio/internal/migration"
	"github.com/GriffinCanCode/vmio/internal/pipeline"
	"github.com/GriffinCanCode/vmio/internal/telemetry"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// nopPlugin satisfies the plugin contract with no behavior.
type nopPlugin struct{}

func (nopPlugin) Init(h handle.Handle) error { return nil }
func (nopPlugin) Shutdown() error { return nil }
func (nopPlugin) Reset() error { return nil }
func (nopPlugin) PutMessage(*buffer.Buffer) error { return nil }
func (nopPlugin) NotifyStage(types.Stage) error { return nil }
func (nopPlugin) GetAttribute(string, attr.Kind) (attr.Value, error) {
	return attr.Value{}, vmerr.E(vmerr.NotFound, "nop")
}
func (nopPlugin) SetAttribute(string, attr.Value) error { return nil }
func (nopPlugin) ReadDeviceBuffer(p []byte) (uint64, uint64, error) {
	return 0, 0, nil
}
func (nopPlugin) WriteDeviceBuffer(p []byte) error { return nil }

func newTestServer(t *testing.T) (*Server, *pipeline.Registry) {
	t.Helper()
	metrics := telemetry.NewMetrics()
	reg := pipeline.NewRegistry(pipeline.Options{Metrics: metrics})

	_, err := reg.Register(pipeline.Descriptor{
		Name:               "display",
		Class:              types.ClassDisplay,
		InputClasses:       types.ClassSetOf(types.ClassPresentation),
		ConnectUpAllowed:   true,
		ConnectDownAllowed: false,
	}, nopPlugin{}, "gpu0")
	require.NoError(t, err)

	s := New(Options{
		Metrics:  metrics,
		Registry: reg,
		Host:     hostenv.NewEnv(hostenv.Options{}),
	})
	return s, reg
}

func doRequest(s *Server, rl config.RateLimitConfig, method, path, body string) *httptest.ResponseRecorder {
	router := s.Router(rl)
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, config.RateLimitConfig{}, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["running"])
	assert.Equal(t, float64(1), resp["plugins"])
	assert.NotEmpty(t, resp["guest_id"])
}

func TestPluginsListing(t *testing.T) {
	s, reg := newTestServer(t)
	require.NoError(t, reg.Start())

	w := doRequest(s, config.RateLimitConfig{}, http.MethodGet, "/plugins", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Plugins []pluginInfo `json:"plugins"`
		Running bool         `json:"running"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Running)
	require.Len(t, resp.Plugins, 1)
	assert.Equal(t, "display", resp.Plugins[0].Name)
	assert.Equal(t, "gpu0", resp.Plugins[0].Label)
	assert.Equal(t, "display", resp.Plugins[0].Class)
	assert.NotZero(t, resp.Plugins[0].Handle)
}

func TestMigrationStageEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	ctrl := migration.NewController("gpu0", nopPlugin{}, migration.Options{})
	s.AddController("gpu0", ctrl)

	w := doRequest(s, config.RateLimitConfig{}, http.MethodGet, "/migration/gpu0/stage", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stage":"none"`)

	w = doRequest(s, config.RateLimitConfig{}, http.MethodGet, "/migration/nope/stage", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(s, config.RateLimitConfig{}, http.MethodPost, "/migration/gpu0/stage", `{"stage":"pre-copy"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.StagePreCopy, ctrl.Stage())

	// Protocol violations map to conflict.
	w = doRequest(s, config.RateLimitConfig{}, http.MethodPost, "/migration/gpu0/stage", `{"stage":"resume"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(s, config.RateLimitConfig{}, http.MethodPost, "/migration/gpu0/stage", `{"stage":"warp"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, config.RateLimitConfig{}, http.MethodPost, "/migration/gpu0/stage", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, config.RateLimitConfig{}, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vmio_plugins_attached")
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t)
	rl := config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, Enabled: true}
	router := s.Router(rl)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
