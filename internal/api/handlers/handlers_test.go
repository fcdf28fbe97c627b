package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ppe-sentinel/config"
	"ppe-sentinel/internal/core/models"
	"ppe-sentinel/internal/core/processor"
	"ppe-sentinel/internal/db"
	"ppe-sentinel/internal/db/repository"
	"ppe-sentinel/internal/ingest"
	"ppe-sentinel/internal/locale"
	"ppe-sentinel/internal/preview"
	"ppe-sentinel/internal/sse"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreams struct {
	mu      sync.Mutex
	streams []processor.StreamStats
	stopped []string
}

func (f *fakeStreams) Streams() []processor.StreamStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]processor.StreamStats(nil), f.streams...)
}

func (f *fakeStreams) Stop(camera string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.streams {
		if s.Camera == camera {
			f.streams = append(f.streams[:i], f.streams[i+1:]...)
			f.stopped = append(f.stopped, camera)
			return true
		}
	}
	return false
}

type fakeSubmitter struct {
	mu     sync.Mutex
	frames []processor.Frame
	err    error
}

func (f *fakeSubmitter) Submit(_ context.Context, frame processor.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSubmitter) TrySubmit(frame processor.Frame) error {
	return f.Submit(context.Background(), frame)
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(data []byte) (image.Image, error) {
	if string(data) == "broken" {
		return nil, fmt.Errorf("cannot decode")
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 3)), nil
}

type connected bool

func (c connected) IsConnected() bool { return bool(c) }

type testAPI struct {
	router    *gin.Engine
	store     *repository.SQLiteStore
	streams   *fakeStreams
	submitter *fakeSubmitter
	previews  *preview.Buffer
	hub       *sse.Hub
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"*"},
			SessionSecret:  "secret",
		},
		Engine: config.EngineConfig{SubmitTimeout: time.Second},
		Detector: config.DetectorConfig{
			DefaultModel: "hardhat",
			Thresholds:   map[string]float64{"hardhat": 0.45},
		},
	}
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(config.DBConfig{File: filepath.Join(t.TempDir(), "evidence.db"), BusyTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	translator, err := locale.NewTranslator("en")
	require.NoError(t, err)

	cfg := testConfig()
	api := &testAPI{
		store:     repository.NewSQLiteStore(gdb),
		streams:   &fakeStreams{},
		submitter: &fakeSubmitter{},
		previews:  preview.NewBuffer(4),
		hub:       sse.NewHub(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = api.hub.Run(ctx) }()
	t.Cleanup(cancel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"}))

	api.router = NewRouter(Dependencies{
		Config:     cfg,
		Store:      api.store,
		Streams:    api.streams,
		Ingestor:   ingest.NewIngestor(api.submitter, fakeDecoder{}, cfg),
		Hub:        api.hub,
		Previews:   api.previews,
		Translator: translator,
		Gatherer:   registry,
		MQTT:       connected(true),
	})
	return api
}

func (a *testAPI) do(method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) insert(t *testing.T, camera, label string, img []byte) uint {
	t.Helper()
	id, err := a.store.Insert(context.Background(), &models.Evidence{
		Timestamp:     "2024-05-01 12:00:05",
		ViolationType: label,
		Image:         img,
		Camera:        camera,
		EpisodeID:     "episode-" + camera,
	})
	require.NoError(t, err)
	return id
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestListEvidenceNewestFirst(t *testing.T) {
	api := newTestAPI(t)
	api.insert(t, "gate", "NO-Hardhat", []byte{1, 2, 3})
	api.insert(t, "dock", "NO-Vest", []byte{4})
	api.insert(t, "yard", "NO-Mask", []byte{5, 6})

	w := api.do(http.MethodGet, "/api/evidence?limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total    int64                    `json:"total"`
		Count    int                      `json:"count"`
		Evidence []models.EvidenceSummary `json:"evidence"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Total)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "yard", body.Evidence[0].Camera)
	assert.Equal(t, 2, body.Evidence[0].ImageSize)
	assert.Equal(t, "dock", body.Evidence[1].Camera)

	w = api.do(http.MethodGet, "/api/evidence?limit=2&offset=2", nil, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Evidence, 1)
	assert.Equal(t, "gate", body.Evidence[0].Camera)
}

func TestGetEvidenceAndImage(t *testing.T) {
	api := newTestAPI(t)
	id := api.insert(t, "gate", "NO-Hardhat", []byte{0xff, 0xd8, 0xff})

	w := api.do(http.MethodGet, fmt.Sprintf("/api/evidence/%d", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "NO-Hardhat", body["violation_type"])
	assert.Equal(t, "episode-gate", body["episode_id"])
	assert.Equal(t, fmt.Sprintf("/api/evidence/%d/image", id), body["image_url"])

	w = api.do(http.MethodGet, fmt.Sprintf("/api/evidence/%d/image", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, w.Body.Bytes())
}

func TestGetEvidenceErrors(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/evidence/abc", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/evidence/0", nil, "").Code)

	w := api.do(http.MethodGet, "/api/evidence/42", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Evidence record not found", decode(t, w)["error"])

	id := api.insert(t, "gate", "NO-Hardhat", nil)
	w = api.do(http.MethodGet, fmt.Sprintf("/api/evidence/%d/image", id), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteEvidence(t *testing.T) {
	api := newTestAPI(t)
	id := api.insert(t, "gate", "NO-Hardhat", []byte{1})

	w := api.do(http.MethodDelete, fmt.Sprintf("/api/evidence/%d", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["deleted"])

	w = api.do(http.MethodDelete, fmt.Sprintf("/api/evidence/%d", id), nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, decode(t, w)["deleted"])
}

func TestDeleteAllEvidenceResetsIDs(t *testing.T) {
	api := newTestAPI(t)
	api.insert(t, "gate", "NO-Hardhat", []byte{1})
	api.insert(t, "gate", "NO-Vest", []byte{2})

	w := api.do(http.MethodDelete, "/api/evidence", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	count, err := api.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, uint(1), api.insert(t, "gate", "NO-Mask", []byte{3}))
}

func TestErrorMessagesAreTranslated(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/evidence/42", nil)
	req.Header.Set("Accept-Language", "tr-TR,tr;q=0.9")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "İhlal kaydı bulunamadı", decode(t, w)["error"])
}

func TestListAndStopStreams(t *testing.T) {
	api := newTestAPI(t)
	api.streams.streams = []processor.StreamStats{
		{Camera: "dock", State: "idle"},
		{Camera: "gate", State: "pending", EpisodeLabel: "NO-Vest"},
	}
	api.previews.Update("gate", "pending", []byte{1})

	w := api.do(http.MethodGet, "/api/streams", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count   int                     `json:"count"`
		Streams []processor.StreamStats `json:"streams"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "NO-Vest", body.Streams[1].EpisodeLabel)

	w = api.do(http.MethodDelete, "/api/streams/gate", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"gate"}, api.streams.stopped)
	assert.Nil(t, api.previews.Get("gate"))

	w = api.do(http.MethodDelete, "/api/streams/gate", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Stream gate is not running", decode(t, w)["error"])
}

func TestSubmitFrameJSON(t *testing.T) {
	api := newTestAPI(t)

	msg := ingest.Message{
		Camera: "ignored",
		Frame:  base64.StdEncoding.EncodeToString([]byte("jpeg")),
		Detections: []ingest.Detection{
			{Label: "NO-Hardhat", Confidence: 0.9, Box: []int{1, 2, 30, 40}},
			{Label: "Person", Confidence: 0.2},
		},
	}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	w := api.do(http.MethodPost, "/api/streams/gate/frames", payload, "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, api.submitter.frames, 1)
	frame := api.submitter.frames[0]
	assert.Equal(t, "gate", frame.Camera)
	assert.NotNil(t, frame.Image)
	assert.False(t, frame.ArrivedAt.IsZero())
	require.Len(t, frame.Regions, 1)
	assert.Equal(t, "NO-Hardhat", frame.Regions[0].Label)
	assert.Equal(t, 30, frame.Regions[0].Box.X2)
}

func TestSubmitFrameMultipart(t *testing.T) {
	api := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("detections", `[{"label":"NO-Vest","confidence":0.8,"box":[0,0,10,10]}]`))
	fw, err := mw.CreateFormFile("frame", "frame.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := api.do(http.MethodPost, "/api/streams/dock/frames", buf.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, api.submitter.frames, 1)
	assert.Equal(t, "dock", api.submitter.frames[0].Camera)
	assert.NotNil(t, api.submitter.frames[0].Image)
	assert.Equal(t, "NO-Vest", api.submitter.frames[0].Regions[0].Label)
}

func TestSubmitFrameWithoutImage(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/streams/gate/frames", []byte(`{"detections":[]}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, api.submitter.frames, 1)
	assert.Nil(t, api.submitter.frames[0].Image)
	assert.Empty(t, api.submitter.frames[0].Regions)
}

func TestSubmitFrameRejectsInvalidInput(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"detections":`},
		{"bad base64", `{"frame":"%%%","detections":[]}`},
		{"undecodable image", fmt.Sprintf(`{"frame":%q,"detections":[]}`, base64.StdEncoding.EncodeToString([]byte("broken")))},
		{"bad box", `{"detections":[{"label":"NO-Vest","confidence":0.9,"box":[1,2,3]}]}`},
		{"missing label", `{"detections":[{"confidence":0.9}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/api/streams/gate/frames", []byte(tt.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.True(t, strings.HasPrefix(decode(t, w)["error"].(string), "Invalid frame:"))
		})
	}
	assert.Empty(t, api.submitter.frames)
}

func TestSubmitFrameQueueFull(t *testing.T) {
	api := newTestAPI(t)
	api.submitter.err = fmt.Errorf("%w: %w", processor.ErrQueueFull, context.DeadlineExceeded)

	w := api.do(http.MethodPost, "/api/streams/gate/frames", []byte(`{"detections":[]}`), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	api.submitter.err = processor.ErrManagerClosed
	w = api.do(http.MethodPost, "/api/streams/gate/frames", []byte(`{"detections":[]}`), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	api.insert(t, "gate", "NO-Hardhat", []byte{1})
	api.streams.streams = []processor.StreamStats{{Camera: "gate"}}

	w := api.do(http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["evidence_count"])
	assert.Equal(t, float64(1), body["streams"])
	assert.Equal(t, true, body["mqtt_connected"])
}

func TestSystemStats(t *testing.T) {
	api := newTestAPI(t)
	api.streams.streams = []processor.StreamStats{
		{Camera: "gate", State: "pending", Queued: 2},
		{Camera: "dock", State: "idle", Queued: 1},
	}

	w := api.do(http.MethodGet, "/api/system/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["active_streams"])
	assert.Equal(t, float64(1), body["pending_streams"])
	assert.Equal(t, float64(3), body["queued_frames"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_total")
}

func TestPreviewRoutesAreRegistered(t *testing.T) {
	api := newTestAPI(t)
	api.previews.Update("gate", "fired", []byte{0xff, 0xd8})

	w := api.do(http.MethodGet, "/api/streams/gate/preview", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte{0xff, 0xd8}, w.Body.Bytes())
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/evidence", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventStream(t *testing.T) {
	api := newTestAPI(t)
	server := httptest.NewServer(api.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return api.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	api.hub.EvidenceCaptured(models.Evidence{ID: 9, Camera: "gate", ViolationType: "NO-Vest"})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event:evidence", lines[0])
	assert.Contains(t, lines[1], `"violation_type":"NO-Vest"`)
}
