package renderer

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v0 "proofrender/internal/contracts/renderer/v0"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/presets"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func studio(t *testing.T) presets.Preset {
	t.Helper()
	c, err := presets.Load("")
	require.NoError(t, err)
	p, err := c.Get("studio")
	require.NoError(t, err)
	return p
}

func TestHexToRGB(t *testing.T) {
	r, g, b := hexToRGB("#ff7e3e")
	assert.InDelta(t, 1.0, r, 1e-9)
	assert.InDelta(t, 126.0/255, g, 1e-9)
	assert.InDelta(t, 62.0/255, b, 1e-9)

	r, g, b = hexToRGB("fff")
	assert.Equal(t, [3]float64{1, 1, 1}, [3]float64{r, g, b})

	r, g, b = hexToRGB("#zzzzzz")
	assert.Equal(t, [3]float64{0, 0, 0}, [3]float64{r, g, b})
}

func TestSceneScript(t *testing.T) {
	script, err := SceneScript(Request{
		AssetPath:  "/work/uploads/j1/asset.gltf",
		OutputPath: "/work/outputs/j1/render.png",
		Preset:     studio(t),
		Width:      1024,
		Height:     1024,
		Samples:    128,
	})
	require.NoError(t, err)

	assert.Contains(t, script, `bpy.ops.import_scene.gltf(filepath="/work/uploads/j1/asset.gltf")`)
	assert.Contains(t, script, "scene.cycles.samples = 128")
	assert.Contains(t, script, "scene.render.resolution_x = 1024")
	assert.Contains(t, script, `type="AREA"`)
	assert.Contains(t, script, "light_data.energy = 1000")
	assert.Contains(t, script, "light_2")
	assert.NotContains(t, script, "0x")
}

func TestVerifyPNG(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.png")
	writePNG(t, good, 8, 8)
	assert.NoError(t, VerifyPNG(good, 8, 8))
	assert.NoError(t, VerifyPNG(good, 0, 0))

	err := VerifyPNG(good, 1024, 1024)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeExecution))
	assert.Contains(t, errors.Message(err), "invalid dimensions 8x8")

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.Contains(t, errors.Message(VerifyPNG(empty, 8, 8)), "empty")

	notPNG := filepath.Join(dir, "fake.png")
	require.NoError(t, os.WriteFile(notPNG, []byte("GIF89a"), 0o644))
	assert.Contains(t, errors.Message(VerifyPNG(notPNG, 8, 8)), "expected PNG")

	assert.Contains(t, errors.Message(VerifyPNG(filepath.Join(dir, "none.png"), 8, 8)), "not found")
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, "3.6.5", parseVersion("Blender 3.6.5\n\tbuild date: 2023-10-16\n"))
	assert.Equal(t, "custom-build", parseVersion("custom-build\n"))
	assert.Equal(t, "unknown", parseVersion(""))
}

// fakeBlender writes a shell script standing in for the blender binary.
func fakeBlender(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake blender needs /bin/sh")
	}
	p := filepath.Join(t.TempDir(), "blender")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func TestBlenderEngine(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.png")
	writePNG(t, fixture, 16, 16)

	req := Request{
		JobID:      "j1",
		AssetPath:  filepath.Join(dir, "asset.gltf"),
		OutputPath: filepath.Join(dir, "render.png"),
		Preset:     studio(t),
		Width:      16,
		Height:     16,
		Samples:    8,
	}

	t.Run("success", func(t *testing.T) {
		bin := fakeBlender(t, `
if [ "$1" = "--version" ]; then echo "Blender 4.1.0"; exit 0; fi
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
cp "`+fixture+`" "$out"
`)
		e := NewBlenderEngine(bin, time.Minute, nil)
		e.scriptDir = t.TempDir()
		res, err := e.Render(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, req.OutputPath, res.OutputPath)
		assert.Equal(t, "4.1.0", e.Version())

		leftovers, err := os.ReadDir(e.scriptDir)
		require.NoError(t, err)
		assert.Empty(t, leftovers, "scene script was not removed")
	})

	t.Run("stderr classification", func(t *testing.T) {
		cases := []struct {
			stderr string
			want   string
		}{
			{"CUDA error: no device", "GPU compute unavailable (CUDA error)"},
			{"ModuleNotFoundError: No module named 'bpy'", "Blender installation incomplete (bpy module not found)"},
			{"malloc failed: out of memory", "Insufficient RAM for render"},
			{"Traceback\nKeyError: 'Background'", "Blender process failed: KeyError: 'Background'"},
		}
		for _, tc := range cases {
			bin := fakeBlender(t, "printf '%s' \""+tc.stderr+"\" >&2\nexit 1\n")
			_, err := NewBlenderEngine(bin, time.Minute, nil).Render(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeExecution))
			assert.Equal(t, tc.want, errors.Message(err), tc.stderr)
		}
	})

	t.Run("timeout kills the process", func(t *testing.T) {
		bin := fakeBlender(t, "exec sleep 30\n")
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := NewBlenderEngine(bin, 7*time.Second, nil).Render(ctx, req)
		require.Error(t, err)
		assert.Equal(t, "render timeout after 7 seconds", errors.Message(err))
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("missing binary", func(t *testing.T) {
		e := NewBlenderEngine(filepath.Join(dir, "no-such-blender"), time.Minute, nil)
		_, err := e.Render(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.IsUnavailable(err))
		assert.Equal(t, "unknown", e.Version())
	})

	t.Run("missing output directory", func(t *testing.T) {
		bad := req
		bad.OutputPath = filepath.Join(dir, "missing", "render.png")
		_, err := NewBlenderEngine("blender", time.Minute, nil).Render(context.Background(), bad)
		require.Error(t, err)
		assert.Contains(t, errors.Message(err), "output directory does not exist")
	})
}

func TestHTTPClient(t *testing.T) {
	var (
		mu  sync.Mutex
		got v0.RenderSpec
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "/render", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		if got.JobID == "bad" {
			msg := "scene import failed"
			_ = json.NewEncoder(w).Encode(v0.RenderResult{Success: false, Error: &msg})
			return
		}
		if got.JobID == "boom" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(v0.RenderResult{
			Success:         true,
			OutputPath:      got.OutputPath,
			DurationSeconds: 2.5,
			EngineVersion:   "3.6.5",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	assert.Equal(t, "unknown", c.Version())

	req := Request{JobID: "ok", AssetPath: "/a.gltf", OutputPath: "/o.png", Preset: studio(t), Width: 1024, Height: 1024, Samples: 128}
	res, err := c.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/o.png", res.OutputPath)
	assert.Equal(t, 2500*time.Millisecond, res.Duration)
	assert.Equal(t, "3.6.5", c.Version())
	mu.Lock()
	assert.Equal(t, "studio", got.Preset["name"])
	assert.Equal(t, 1024, got.Resolution.Width)
	mu.Unlock()

	req.JobID = "bad"
	_, err = c.Render(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "scene import failed", errors.Message(err))

	req.JobID = "boom"
	_, err = c.Render(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeExecution))
}

func TestEngineFunc(t *testing.T) {
	var e Engine = EngineFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{OutputPath: req.OutputPath, Duration: time.Second}, nil
	})
	res, err := e.Render(context.Background(), Request{OutputPath: "/x.png"})
	require.NoError(t, err)
	assert.Equal(t, "/x.png", res.OutputPath)
	assert.Equal(t, "embedded", e.Version())
}
