package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
	"github.com/nerrad567/gray-logic-capture/internal/capture/static"
	"github.com/nerrad567/gray-logic-capture/internal/history"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-capture/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-capture/migrations"
)

// testDevices is the device set served by the static backend in tests.
func testDevices() []static.Device {
	return []static.Device{
		{
			Name:      "Front Door",
			UniqueID:  "usb-front-door",
			ProductID: "046d:0825",
			Formats: []static.Format{
				{PixelFormat: "YUYV", Width: 640, Height: 480, FPS: 30},
				{PixelFormat: "MJPG", Width: 1280, Height: 720, FPS: 30},
				{PixelFormat: "MJPG", Width: 1920, Height: 1080, FPS: 15},
			},
		},
		{
			Name:     "Garage",
			UniqueID: "pci-0000:00:14.0/usb-garage",
			Formats: []static.Format{
				{PixelFormat: "YUYV", Width: 320, Height: 240, FPS: 25},
			},
		},
	}
}

// mockSelections records best-match selections passed to the server.
type mockSelections struct {
	mu    sync.Mutex
	calls []recordedSelection
}

type recordedSelection struct {
	deviceID string
	epoch    string
	req      capture.CaptureCapability
	index    int
	result   capture.CaptureCapability
}

func (m *mockSelections) RecordSelection(_ context.Context, deviceID, epoch string, req capture.CaptureCapability, index int, result capture.CaptureCapability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedSelection{deviceID, epoch, req, index, result})
}

func (m *mockSelections) recorded() []recordedSelection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedSelection, len(m.calls))
	copy(out, m.calls)
	return out
}

// failingBackend always fails enumeration.
type failingBackend struct{}

func (failingBackend) EnumerateDevices(_ context.Context) ([]capture.RawDevice, error) {
	return nil, errors.New("no capture subsystem")
}

// devicesOnlyBackend hides the format enumeration of a static backend.
type devicesOnlyBackend struct{ b *static.Backend }

func (d devicesOnlyBackend) EnumerateDevices(ctx context.Context) ([]capture.RawDevice, error) {
	return d.b.EnumerateDevices(ctx)
}

type testEnv struct {
	srv        *Server
	dir        *capture.Directory
	history    *history.SQLiteRepository
	selections *mockSelections
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testAPIConfig(port int) config.APIConfig {
	return config.APIConfig{
		Host: "127.0.0.1",
		Port: port,
		Timeouts: config.APITimeoutConfig{
			Read:  5,
			Write: 5,
			Idle:  5,
		},
	}
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Path:           "/ws",
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
}

// newTestDirectory initialises a directory over backend.
func newTestDirectory(t *testing.T, backend capture.Backend) *capture.Directory {
	t.Helper()
	dir := capture.NewDirectory(backend, capture.Options{})
	if err := dir.Init(context.Background()); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	t.Cleanup(func() { dir.Close() })
	return dir
}

// setupTestHistory creates a migrated in-memory history repository.
func setupTestHistory(t *testing.T) *history.SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return history.NewSQLiteRepository(db.DB)
}

// testServerWithBackend creates a Server over the given backend with an
// in-memory history and a recording selection sink.
func testServerWithBackend(t *testing.T, backend capture.Backend) *testEnv {
	t.Helper()

	log := testLogger()
	env := &testEnv{
		dir:        newTestDirectory(t, backend),
		history:    setupTestHistory(t),
		selections: &mockSelections{},
	}

	srv, err := New(Deps{
		Config:     testAPIConfig(0),
		WS:         testWSConfig(),
		Logger:     log,
		Directory:  env.dir,
		History:    env.history,
		Selections: env.selections,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	srv.hub = NewHub(srv.wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	env.srv = srv
	return env
}

func testServer(t *testing.T) *testEnv {
	t.Helper()
	return testServerWithBackend(t, static.New(testDevices()))
}

// do sends a request through the router and returns the recorder.
func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	dir := capture.NewDirectory(static.New(nil), capture.Options{})

	if _, err := New(Deps{Directory: dir}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without directory should fail")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	decode(t, w, &resp)

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/health", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Device Directory Tests ────────────────────────────────────────

func TestListDevices(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp deviceListResponse
	decode(t, w, &resp)

	if resp.Count != 2 || len(resp.Devices) != 2 {
		t.Fatalf("count = %d (%d devices), want 2", resp.Count, len(resp.Devices))
	}
	if resp.Epoch == "" {
		t.Error("epoch should be set")
	}
	if resp.RefreshedAt.IsZero() {
		t.Error("refreshed_at should be set")
	}
	if resp.Devices[0].DisplayName != "Front Door" || resp.Devices[0].UniqueID != "usb-front-door" {
		t.Errorf("devices[0] = %+v", resp.Devices[0])
	}
}

func TestListDevices_Empty(t *testing.T) {
	env := testServerWithBackend(t, static.New(nil))

	w := env.do(http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	decode(t, w, &resp)

	if int(resp["count"].(float64)) != 0 {
		t.Errorf("count = %v, want 0", resp["count"])
	}
	if devices, ok := resp["devices"].([]any); !ok || len(devices) != 0 {
		t.Errorf("devices = %v, want empty array", resp["devices"])
	}
}

func TestListDevices_BackendUnavailable(t *testing.T) {
	env := testServerWithBackend(t, failingBackend{})

	w := env.do(http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp Error
	decode(t, w, &resp)
	if resp.Code != ErrCodeServiceUnavailable {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeServiceUnavailable)
	}
}

func TestRefreshDevices_NewEpoch(t *testing.T) {
	env := testServer(t)

	var first, second deviceListResponse
	decode(t, env.do(http.MethodGet, "/api/v1/devices", ""), &first)

	w := env.do(http.MethodPost, "/api/v1/devices/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	decode(t, w, &second)

	if second.Epoch == first.Epoch {
		t.Error("refresh should publish a new epoch")
	}
	if second.Count != 2 {
		t.Errorf("count = %d, want 2", second.Count)
	}
}

func TestGetDeviceAt(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name     string
		index    string
		wantCode int
		wantID   string
	}{
		{"first", "0", http.StatusOK, "usb-front-door"},
		{"second", "1", http.StatusOK, "pci-0000:00:14.0/usb-garage"},
		{"out of range", "2", http.StatusNotFound, ""},
		{"negative", "-1", http.StatusBadRequest, ""},
		{"not a number", "abc", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/v1/devices/at/"+tt.index, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantID == "" {
				return
			}
			var rec capture.DeviceRecord
			decode(t, w, &rec)
			if rec.UniqueID != tt.wantID {
				t.Errorf("unique_id = %q, want %q", rec.UniqueID, tt.wantID)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/devices/usb-front-door", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var rec capture.DeviceRecord
	decode(t, w, &rec)
	if rec.DisplayName != "Front Door" {
		t.Errorf("display_name = %q, want Front Door", rec.DisplayName)
	}
	if rec.ProductID != "046d:0825" {
		t.Errorf("product_id = %q, want 046d:0825", rec.ProductID)
	}
}

func TestGetDevice_EscapedID(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/devices/pci-0000:00:14.0%2Fusb-garage", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var rec capture.DeviceRecord
	decode(t, w, &rec)
	if rec.DisplayName != "Garage" {
		t.Errorf("display_name = %q, want Garage", rec.DisplayName)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/devices/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Capability Tests ──────────────────────────────────────────────

func TestListCapabilities(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/devices/usb-front-door/capabilities", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp capabilityListResponse
	decode(t, w, &resp)

	if resp.Count != 3 {
		t.Fatalf("count = %d, want 3", resp.Count)
	}
	want := []capture.CaptureCapability{
		{Width: 640, Height: 480, MaxFPS: 30, PixelFormat: capture.PixelFormatYUY2},
		{Width: 1280, Height: 720, MaxFPS: 30, PixelFormat: capture.PixelFormatMJPEG},
		{Width: 1920, Height: 1080, MaxFPS: 15, PixelFormat: capture.PixelFormatMJPEG},
	}
	for i, c := range resp.Capabilities {
		if c.Width != want[i].Width || c.Height != want[i].Height ||
			c.MaxFPS != want[i].MaxFPS || c.PixelFormat != want[i].PixelFormat {
			t.Errorf("capabilities[%d] = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestListCapabilities_UnknownDevice(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodGet, "/api/v1/devices/nonexistent/capabilities", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListCapabilities_NotSupported(t *testing.T) {
	env := testServerWithBackend(t, devicesOnlyBackend{b: static.New(testDevices())})

	w := env.do(http.MethodGet, "/api/v1/devices/usb-front-door/capabilities", "")
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotImplemented)
	}
}

func TestGetCapability(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name      string
		index     string
		wantCode  int
		wantWidth uint32
	}{
		{"first", "0", http.StatusOK, 640},
		{"last", "2", http.StatusOK, 1920},
		{"out of range", "3", http.StatusNotFound, 0},
		{"bad index", "x", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/v1/devices/usb-front-door/capabilities/"+tt.index, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantWidth == 0 {
				return
			}
			var c capture.CaptureCapability
			decode(t, w, &c)
			if c.Width != tt.wantWidth {
				t.Errorf("width = %d, want %d", c.Width, tt.wantWidth)
			}
		})
	}
}

func TestRebuildCapabilities(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodPost, "/api/v1/devices/pci-0000:00:14.0%2Fusb-garage/capabilities/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp capabilityListResponse
	decode(t, w, &resp)
	if resp.DeviceID != "pci-0000:00:14.0/usb-garage" {
		t.Errorf("device_id = %q", resp.DeviceID)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
}

func TestBestMatch(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantIndex int
		wantExact bool
	}{
		{
			name:      "exact match",
			body:      `{"width":1280,"height":720,"max_fps":30,"pixel_format":"MJPEG"}`,
			wantCode:  http.StatusOK,
			wantIndex: 1,
			wantExact: true,
		},
		{
			name:      "any format",
			body:      `{"width":640,"height":480,"max_fps":30}`,
			wantCode:  http.StatusOK,
			wantIndex: 0,
			wantExact: true,
		},
		{
			name:      "closest area",
			body:      `{"width":1920,"height":1080,"max_fps":30,"pixel_format":"mjpg"}`,
			wantCode:  http.StatusOK,
			wantIndex: 2,
		},
		{
			name:     "unknown pixel format",
			body:     `{"width":640,"height":480,"max_fps":30,"pixel_format":"XYZW"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "negative fps",
			body:     `{"width":640,"height":480,"max_fps":-1}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "invalid json",
			body:     `{not json`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)

			w := env.do(http.MethodPost, "/api/v1/devices/usb-front-door/capabilities/best-match", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				if n := len(env.selections.recorded()); n != 0 {
					t.Errorf("recorded %d selections for a rejected request", n)
				}
				return
			}

			var resp bestMatchResponse
			decode(t, w, &resp)
			if resp.Index != tt.wantIndex {
				t.Errorf("index = %d, want %d", resp.Index, tt.wantIndex)
			}
			if resp.Exact != tt.wantExact {
				t.Errorf("exact = %v, want %v", resp.Exact, tt.wantExact)
			}

			rec := env.selections.recorded()
			if len(rec) != 1 {
				t.Fatalf("recorded %d selections, want 1", len(rec))
			}
			if rec[0].deviceID != "usb-front-door" || rec[0].index != tt.wantIndex {
				t.Errorf("recorded = %+v", rec[0])
			}
			if rec[0].epoch == "" {
				t.Error("recorded selection should carry the list epoch")
			}
		})
	}
}

func TestBestMatch_UnknownDevice(t *testing.T) {
	env := testServer(t)

	w := env.do(http.MethodPost, "/api/v1/devices/nonexistent/capabilities/best-match", `{"width":640,"height":480,"max_fps":30}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── History Tests ─────────────────────────────────────────────────

func TestListRefreshes(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	l, err := env.dir.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if err := env.history.RecordRefresh(ctx, capture.RefreshEvent{List: l, Added: l.Devices}); err != nil {
		t.Fatalf("RecordRefresh() error: %v", err)
	}

	w := env.do(http.MethodGet, "/api/v1/history/refreshes?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Refreshes []history.RefreshEntry `json:"refreshes"`
		Count     int                    `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	if resp.Refreshes[0].Epoch != l.Epoch {
		t.Errorf("epoch = %q, want %q", resp.Refreshes[0].Epoch, l.Epoch)
	}
	if resp.Refreshes[0].DeviceCount != 2 {
		t.Errorf("device_count = %d, want 2", resp.Refreshes[0].DeviceCount)
	}
}

func TestListRefreshes_Since(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	if err := env.history.RecordRefresh(ctx, capture.RefreshEvent{List: &capture.DeviceList{Epoch: "e1"}}); err != nil {
		t.Fatalf("RecordRefresh() error: %v", err)
	}

	since := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w := env.do(http.MethodGet, "/api/v1/history/refreshes?since="+since, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	decode(t, w, &resp)
	if int(resp["count"].(float64)) != 0 {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

func TestListRefreshes_InvalidParams(t *testing.T) {
	env := testServer(t)

	for _, q := range []string{"limit=0", "limit=abc", "limit=201", "since=yesterday"} {
		t.Run(q, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/v1/history/refreshes?"+q, "")
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestListRefreshes_NoHistory(t *testing.T) {
	env := testServer(t)
	env.srv.history = nil

	w := env.do(http.MethodGet, "/api/v1/history/refreshes", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestListSelections(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := env.history.RecordSelection(ctx, history.SelectionEntry{
			DeviceID:        "pci-0000:00:14.0/usb-garage",
			Epoch:           "e1",
			CapabilityIndex: 0,
		}); err != nil {
			t.Fatalf("RecordSelection() error: %v", err)
		}
	}

	w := env.do(http.MethodGet, "/api/v1/devices/pci-0000:00:14.0%2Fusb-garage/selections?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	decode(t, w, &resp)
	if resp["device_id"] != "pci-0000:00:14.0/usb-garage" {
		t.Errorf("device_id = %v", resp["device_id"])
	}
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	env := testServer(t)
	env.srv.dropped = func() int { return 4 }

	var before SystemMetrics
	decode(t, env.do(http.MethodGet, "/api/v1/metrics", ""), &before)
	if before.Directory.Devices != 0 || before.Directory.Epoch != "" {
		t.Errorf("metrics before first read = %+v, want empty", before.Directory)
	}

	l, err := env.dir.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}

	var after SystemMetrics
	decode(t, env.do(http.MethodGet, "/api/v1/metrics", ""), &after)
	if after.Directory.Devices != 2 {
		t.Errorf("directory devices = %d, want 2", after.Directory.Devices)
	}
	if after.Directory.Epoch != l.Epoch {
		t.Errorf("directory epoch = %q, want %q", after.Directory.Epoch, l.Epoch)
	}
	if after.Telemetry.Dropped != 4 {
		t.Errorf("telemetry dropped = %d, want 4", after.Telemetry.Dropped)
	}
	if after.Version != "test" {
		t.Errorf("version = %q, want test", after.Version)
	}
	if after.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines should be reported")
	}
	if after.MQTT.Connected || after.InfluxDB.Connected {
		t.Errorf("disabled sinks reported connected: mqtt=%+v influxdb=%+v", after.MQTT, after.InfluxDB)
	}
}

type stubMQTT struct{ stats mqtt.Stats }

func (s stubMQTT) Stats() mqtt.Stats { return s.stats }

type stubInflux struct{ stats influxdb.Stats }

func (s stubInflux) Stats() influxdb.Stats { return s.stats }

func TestMetrics_Sinks(t *testing.T) {
	env := testServer(t)
	env.srv.mqtt = stubMQTT{mqtt.Stats{Connected: true, Published: 12, Subscriptions: 1}}
	env.srv.influx = stubInflux{influxdb.Stats{Connected: true, Bucket: "capture", WriteErrors: 3}}

	var m SystemMetrics
	decode(t, env.do(http.MethodGet, "/api/v1/metrics", ""), &m)

	wantMQTT := MQTTMetrics{Connected: true, Published: 12, Subscriptions: 1}
	if m.MQTT != wantMQTT {
		t.Errorf("mqtt = %+v, want %+v", m.MQTT, wantMQTT)
	}
	wantInflux := InfluxMetrics{Connected: true, Bucket: "capture", WriteErrors: 3}
	if m.InfluxDB != wantInflux {
		t.Errorf("influxdb = %+v, want %+v", m.InfluxDB, wantInflux)
	}
}

// ─── Error Mapping ─────────────────────────────────────────────────

func TestWriteCaptureError(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("%w: device", capture.ErrNotFound), http.StatusNotFound},
		{"out of range", fmt.Errorf("%w: index 9", capture.ErrOutOfRange), http.StatusNotFound},
		{"buffer too small", capture.ErrBufferTooSmall, http.StatusBadRequest},
		{"not supported", capture.ErrNotSupported, http.StatusNotImplemented},
		{"backend unavailable", capture.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{"invalid state", capture.ErrInvalidState, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			env.srv.writeCaptureError(w, r, tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestDirectoryClosed(t *testing.T) {
	env := testServer(t)
	env.dir.Close()

	w := env.do(http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ─── Hub Tests ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"devices.changed": {}},
	}
	hub.Register(client)

	hub.Broadcast("devices.changed", map[string]any{"epoch": "e1", "count": 1})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != "devices.changed" {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, "devices.changed")
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"other.channel": {}},
	}
	hub.Register(client)

	hub.Broadcast("devices.changed", map[string]any{"epoch": "e1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
		// OK, no message received
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── Listener Tests ────────────────────────────────────────────────

func testServerWithRealListener(t *testing.T, port int) (*Server, string) {
	t.Helper()

	srv, err := New(Deps{
		Config:    testAPIConfig(port),
		WS:        testWSConfig(),
		Logger:    testLogger(),
		Directory: newTestDirectory(t, static.New(testDevices())),
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() })

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Wait for server to be ready
	time.Sleep(100 * time.Millisecond)

	return srv, fmt.Sprintf("127.0.0.1:%d", port)
}

func TestServer_StartAndClose(t *testing.T) {
	port := 19180

	srv, err := New(Deps{
		Config:    testAPIConfig(port),
		WS:        testWSConfig(),
		Logger:    testLogger(),
		Directory: newTestDirectory(t, static.New(testDevices())),
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	addr := fmt.Sprintf("127.0.0.1:%d", port)

	resp, err := http.Get("http://" + addr + "/api/v1/devices")
	if err != nil {
		t.Fatalf("list devices failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("list devices status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() on running server = %v", err)
	}

	cancel()
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_HealthCheck_NotStarted(t *testing.T) {
	env := testServer(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
}

func TestServer_ExternalHub(t *testing.T) {
	log := testLogger()
	hub := NewHub(testWSConfig(), log)

	srv, err := New(Deps{
		Config:      testAPIConfig(0),
		Logger:      log,
		Directory:   newTestDirectory(t, static.New(nil)),
		ExternalHub: hub,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if srv.Hub() != hub {
		t.Error("server should use the injected hub")
	}
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	srv, addr := testServerWithRealListener(t, 19181)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"devices.changed"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Errorf("subscribe response = %+v", resp)
	}

	if srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.hub.ClientCount())
	}

	srv.hub.Broadcast("devices.changed", map[string]string{"epoch": "e2"})

	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if resp.Type != WSTypeEvent {
		t.Errorf("broadcast type = %s, want event", resp.Type)
	}
	if resp.EventType != "devices.changed" {
		t.Errorf("broadcast event_type = %s, want devices.changed", resp.EventType)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	_, addr := testServerWithRealListener(t, 19182)

	ws := connectWebSocket(t, addr)
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"devices.changed", "other.channel"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"other.channel"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read unsubscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "unsub-1" {
		t.Errorf("unsubscribe response = %+v", resp)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	_, addr := testServerWithRealListener(t, 19183)

	ws := connectWebSocket(t, addr)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	tests := []struct {
		name     string
		send     []byte
		wantType string
	}{
		{"ping", []byte(`{"type":"ping","id":"ping-1"}`), WSTypePong},
		{"invalid json", []byte("not json"), WSTypeError},
		{"unknown type", []byte(`{"type":"unknown_type","id":"x"}`), WSTypeError},
	}

	for _, tt := range tests {
		if err := ws.WriteMessage(websocket.TextMessage, tt.send); err != nil {
			t.Fatalf("%s: write: %v", tt.name, err)
		}
		var resp WSMessage
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("%s: read: %v", tt.name, err)
		}
		if resp.Type != tt.wantType {
			t.Errorf("%s: response type = %s, want %s", tt.name, resp.Type, tt.wantType)
		}
	}
}

// connectWebSocket dials the server's WebSocket endpoint.
func connectWebSocket(t *testing.T, addr string) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket connect failed: %v (resp: %v)", err, resp)
	}
	return ws
}
