package main

import (
	"bytes"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofrender/internal/presets"
	"proofrender/internal/proof"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestPresetsCommand(t *testing.T) {
	out, err := run(t, "presets")
	require.NoError(t, err)
	for _, name := range []string{"studio", "sunset", "dramatic"} {
		assert.Contains(t, out, name)
	}
	assert.True(t, strings.HasPrefix(out, "NAME"))
}

func TestHashCommands(t *testing.T) {
	p := writeFile(t, t.TempDir(), "abc.txt", "abc")
	out, err := run(t, "hash", "file", p)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad\n", out)

	_, err = run(t, "hash", "file", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	catalog, err := presets.Load("")
	require.NoError(t, err)
	studio, err := catalog.Get("studio")
	require.NoError(t, err)
	want, err := proof.HashScene(studio.Raw)
	require.NoError(t, err)

	out, err = run(t, "hash", "scene", "studio")
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)

	_, err = run(t, "hash", "scene", "neon")
	assert.Error(t, err)
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	asset := writeFile(t, dir, "asset.gltf", `{"scenes":[{}],"nodes":[{}]}`)
	output := writeFile(t, dir, "render.png", "\x89PNG pixels")

	catalog, err := presets.Load("")
	require.NoError(t, err)
	gen := proof.NewGenerator(catalog, "1024x1024", "4.2.0",
		proof.WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }))
	pr, err := gen.Generate(proof.Input{
		JobID:         "job",
		AssetPath:     asset,
		PresetName:    "dramatic",
		OutputPath:    output,
		ProviderJobID: "local_1",
	})
	require.NoError(t, err)
	doc, err := proof.Encode(pr)
	require.NoError(t, err)
	proofPath := writeFile(t, dir, "proof.json", string(doc))

	out, err := run(t, "verify", "--proof", proofPath, "--asset", asset, "--output", output)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: proof matches (preset dramatic")

	writeFile(t, dir, "render.png", "tampered")
	out, err = run(t, "verify", "--proof", proofPath, "--asset", asset, "--output", output)
	require.Error(t, err)
	assert.Contains(t, out, "MISMATCH outputHash")
	assert.NotContains(t, out, "MISMATCH assetHash")

	_, err = run(t, "verify", "--proof", proofPath)
	assert.Error(t, err, "asset and output are required")
}

func TestGDriveAuthRequiresCredentials(t *testing.T) {
	t.Setenv("GDRIVE_CLIENT_ID", "")
	t.Setenv("GDRIVE_CLIENT_SECRET", "")
	_, err := run(t, "gdrive-auth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GDRIVE_CLIENT_ID")
}

func TestCallbackCode(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		code    string
		wantErr string
	}{
		{"ok", "state=s1&code=abc", "abc", ""},
		{"wrong state", "state=other&code=abc", "", "invalid state"},
		{"denied", "state=s1&error=access_denied", "", "access_denied"},
		{"no code", "state=s1", "", "missing code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := callbackCode(httptest.NewRequest("GET", "/callback?"+tt.query, nil), "s1")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.code, code)
		})
	}
}
