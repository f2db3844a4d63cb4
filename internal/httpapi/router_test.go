package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofrender/internal/adapters/storage/localfs"
	"proofrender/internal/httpapi/handlers"
	"proofrender/internal/httpkit"
	"proofrender/internal/metrics"
	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/ports"
	"proofrender/internal/presets"
	"proofrender/internal/repositories"
	"proofrender/internal/worker"
	"proofrender/internal/worker/monitor"
)

const validGLTF = `{"asset":{"version":"2.0"},"scenes":[{"nodes":[0]}],"nodes":[{"name":"cube"}]}`

type fakeRenders struct {
	submitted []string
	submitErr error
	view      worker.StatusView
	statusErr error
}

func (f *fakeRenders) Submit(ctx context.Context, jobID, presetName string) (worker.Submission, error) {
	if f.submitErr != nil {
		return worker.Submission{}, f.submitErr
	}
	f.submitted = append(f.submitted, jobID+":"+presetName)
	return worker.Submission{
		JobID:         jobID,
		Status:        models.StatusQueued,
		Message:       "Render job submitted successfully",
		ProviderJobID: "aidp_1",
		Provider:      "aidp",
	}, nil
}

func (f *fakeRenders) Status(ctx context.Context, jobID string) (worker.StatusView, error) {
	return f.view, f.statusErr
}

type apiFixture struct {
	srv       http.Handler
	store     *repositories.FileJobRepository
	artifacts *localfs.LocalFS
	uploads   string
	renders   *fakeRenders
}

func newAPI(t *testing.T, maxUpload int64, checks map[string]handlers.Check) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	catalog, err := presets.Load("")
	require.NoError(t, err)

	f := &apiFixture{
		store:     repositories.NewFileJobRepository(filepath.Join(dir, "jobs")),
		artifacts: localfs.New(filepath.Join(dir, "artifacts")),
		uploads:   filepath.Join(dir, "uploads"),
		renders:   &fakeRenders{},
	}
	mw := metrics.NewMiddleware("test")
	mw.MustRegister(prometheus.NewRegistry())

	f.srv = NewRouter(Deps{
		Handlers: handlers.Deps{
			Jobs:      f.store,
			Renders:   f.renders,
			Uploads:   localfs.New(f.uploads),
			Artifacts: f.artifacts,
			Catalog:   catalog,
			MaxUpload: maxUpload,
			Checks:    checks,
			Version:   "test",
		},
		AllowedOrigins: []string{"http://localhost:5173"},
		RequestTimeout: 5 * time.Second,
		Metrics:        mw,
		Log:            logger.NewDiscard(),
	})
	return f
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) httpkit.ErrorEnvelope {
	t.Helper()
	var env httpkit.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

// seed creates a record in the given state.
func (f *apiFixture) seed(t *testing.T, status models.Status, errMsg string) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, f.store.Create(ctx, models.NewJobRecord(id, "scene.gltf", 10, time.Now())))
	if status == models.StatusUploaded {
		return id
	}
	upd := models.JobUpdate{Resubmit: true, Status: models.Ref(status)}
	if errMsg != "" {
		upd.Error = models.Ref(errMsg)
	}
	_, err := f.store.Update(ctx, id, upd)
	require.NoError(t, err)
	return id
}

func TestUpload(t *testing.T) {
	f := newAPI(t, 1<<20, nil)

	rec := f.do(uploadRequest(t, "model.gltf", "model/gltf+json", []byte(validGLTF)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		JobID         string `json:"jobId"`
		Message       string `json:"message"`
		AssetFilename string `json:"assetFilename"`
		AssetSize     int64  `json:"assetSize"`
		NextStep      string `json:"nextStep"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Upload successful", body.Message)
	assert.Equal(t, "model.gltf", body.AssetFilename)
	assert.Equal(t, int64(len(validGLTF)), body.AssetSize)
	assert.Equal(t, "/api/render", body.NextStep)
	_, err := uuid.Parse(body.JobID)
	require.NoError(t, err)

	stored, err := os.ReadFile(filepath.Join(f.uploads, body.JobID, worker.AssetFile))
	require.NoError(t, err)
	assert.Equal(t, validGLTF, string(stored))

	jr, err := f.store.Get(context.Background(), body.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, jr.Status)
	assert.Equal(t, "model.gltf", jr.AssetFilename)
}

func TestUploadRejects(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		body        string
		status      int
		message     string
	}{
		{"wrong extension", "model.glb", "", validGLTF, 400, "Only .gltf files are supported"},
		{"wrong mime", "model.gltf", "image/png", validGLTF, 400, "Invalid MIME type"},
		{"empty", "model.gltf", "", "", 400, "Empty file uploaded"},
		{"not json", "model.gltf", "", "solid cube", 400, "Corrupted .gltf file"},
		{"no scenes", "model.gltf", "", `{"nodes":[{}]}`, 400, "No scenes found"},
		{"no nodes", "model.gltf", "", `{"scenes":[{}]}`, 400, "No nodes found"},
		{"too large", "model.gltf", "", strings.Repeat(" ", 300) + validGLTF, 413, "too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPI(t, 256, nil)
			rec := f.do(uploadRequest(t, tt.filename, tt.contentType, []byte(tt.body)))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, decodeErr(t, rec).Error.Message, tt.message)

			entries, _ := os.ReadDir(f.uploads)
			assert.Empty(t, entries, "rejected uploads leave nothing behind")
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	f := newAPI(t, 1<<20, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("nope"))
	req.Header.Set("Content-Type", "text/plain")
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeErr(t, rec).Error.Code)
}

func TestPostRender(t *testing.T) {
	f := newAPI(t, 1<<20, nil)
	id := uuid.NewString()

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/render",
		strings.NewReader(`{"job_id":"`+id+`","preset":"studio"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sub worker.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, id, sub.JobID)
	assert.Equal(t, "aidp_1", sub.ProviderJobID)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/render",
		strings.NewReader(`{"jobId":"`+id+`","preset":"sunset"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{id + ":studio", id + ":sunset"}, f.renders.submitted)
}

func TestPostRenderErrors(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"bad json", `{`, nil, 400, "VALIDATION_ERROR"},
		{"unknown field", `{"job_id":"` + id + `","preset":"studio","x":1}`, nil, 400, "VALIDATION_ERROR"},
		{"bad job id", `{"job_id":"../etc","preset":"studio"}`, nil, 400, "VALIDATION_ERROR"},
		{"missing preset", `{"job_id":"` + id + `"}`, nil, 400, "VALIDATION_ERROR"},
		{"job not found", `{"job_id":"` + id + `","preset":"studio"}`, errors.NotFound("job", id), 404, "NOT_FOUND"},
		{"in flight", `{"job_id":"` + id + `","preset":"studio"}`, errors.Conflict("busy"), 409, "CONFLICT"},
		{"provider missing", `{"job_id":"` + id + `","preset":"studio"}`, errors.Unavailable("aidp"), 503, "UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPI(t, 1<<20, nil)
			f.renders.submitErr = tt.err
			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeErr(t, rec).Error.Code)
		})
	}

	t.Run("field details", func(t *testing.T) {
		f := newAPI(t, 1<<20, nil)
		rec := f.do(httptest.NewRequest(http.MethodPost, "/api/render",
			strings.NewReader(`{"job_id":"nope","preset":"studio"}`)))
		assert.Equal(t, "uuid", decodeErr(t, rec).Error.Details["job_id"])
	})
}

func TestGetStatus(t *testing.T) {
	f := newAPI(t, 1<<20, nil)
	id := uuid.NewString()
	eta := 12
	f.renders.view = worker.StatusView{
		JobID:                  id,
		Status:                 models.StatusProcessing,
		ProgressPercent:        55,
		EstimatedTimeRemaining: &eta,
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/status/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "processing", body["status"])
	assert.EqualValues(t, 55, body["progressPercent"])
	assert.EqualValues(t, 12, body["estimatedTimeRemaining"])
	assert.Nil(t, body["errorMessage"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/status/not-a-uuid", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.renders.statusErr = errors.NotFound("job", id)
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/status/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found: "+id, decodeErr(t, rec).Error.Message)
}

func TestDownload(t *testing.T) {
	f := newAPI(t, 1<<20, nil)
	ctx := context.Background()
	id := f.seed(t, models.StatusComplete, "")

	png := []byte("\x89PNG render bytes")
	_, err := f.artifacts.PutObject(ctx, ports.PutObjectInput{
		ObjectKey: monitor.RenderKey(id), Reader: bytes.NewReader(png), Size: int64(len(png)),
	})
	require.NoError(t, err)
	doc := []byte(`{"jobId":"` + id + `"}`)
	_, err = f.artifacts.PutObject(ctx, ports.PutObjectInput{
		ObjectKey: monitor.ProofKey(id), Reader: bytes.NewReader(doc), Size: int64(len(doc)),
	})
	require.NoError(t, err)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/download/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, png, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="`+id+`_render.png"`, rec.Header().Get("Content-Disposition"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/download/"+id+"?file=proof", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, doc, rec.Body.Bytes())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="`+id+`_proof.json"`, rec.Header().Get("Content-Disposition"))
}

func TestDownloadErrors(t *testing.T) {
	f := newAPI(t, 1<<20, nil)
	queued := f.seed(t, models.StatusQueued, "")
	failed := f.seed(t, models.StatusFailed, "render timeout after 300 seconds")
	empty := f.seed(t, models.StatusComplete, "")

	tests := []struct {
		name    string
		path    string
		status  int
		reason  string
		message string
	}{
		{"invalid id", "/api/download/abc", 404, "invalid_job_id", "Invalid job ID format"},
		{"unknown", "/api/download/" + uuid.NewString(), 404, "not_found", "Job not found"},
		{"not complete", "/api/download/" + queued, 409, "not_complete", "Current status: queued"},
		{"failed", "/api/download/" + failed, 404, "failed", "Render failed: render timeout after 300 seconds. File not available."},
		{"file missing", "/api/download/" + empty + "?file=proof", 404, "file_not_found", "File not found: proof"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			env := decodeErr(t, rec)
			assert.Equal(t, tt.reason, env.Error.Details["reason"])
			assert.Contains(t, env.Error.Message, tt.message)
		})
	}

	t.Run("bad file param", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/download/"+empty+"?file=scene", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPresets(t *testing.T) {
	f := newAPI(t, 1<<20, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/presets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Presets []presets.Preset `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	names := make([]string, 0, len(body.Presets))
	for _, p := range body.Presets {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"studio", "sunset", "dramatic"}, names)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/presets/sunset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/presets/neon", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newAPI(t, 1<<20, map[string]handlers.Check{
		"jobs":  func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.Unavailable("redis") },
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Nil(t, body["checks"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/health?deep=true", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["jobs"].(map[string]any)["status"])
	assert.Equal(t, "error", checks["redis"].(map[string]any)["status"])
	assert.Equal(t, "localfs", checks["storage"].(map[string]any)["provider"])
}

func TestMiddlewareStack(t *testing.T) {
	f := newAPI(t, 1<<20, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/render", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := f.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "proofrender_renders_in_flight")
}
