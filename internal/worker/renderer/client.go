package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	v0 "proofrender/internal/contracts/renderer/v0"
	"proofrender/internal/pkg/errors"
)

// HTTPClient renders through a sidecar that speaks the v0 contract.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	version atomic.Value
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// Version reports the engine version the sidecar last announced.
func (c *HTTPClient) Version() string {
	if v, ok := c.version.Load().(string); ok && v != "" {
		return v
	}
	return "unknown"
}

func (c *HTTPClient) Render(ctx context.Context, req Request) (Result, error) {
	spec := v0.RenderSpec{
		JobID:      req.JobID,
		AssetPath:  req.AssetPath,
		OutputPath: req.OutputPath,
		Preset:     req.Preset.Raw,
		Resolution: v0.Resolution{Width: req.Width, Height: req.Height},
		Samples:    req.Samples,
	}

	var out v0.RenderResult
	if err := c.post(ctx, "/render", spec, &out); err != nil {
		return Result{}, err
	}
	if out.EngineVersion != "" {
		c.version.Store(out.EngineVersion)
	}
	if !out.Success {
		msg := "Unknown render error"
		if out.Error != nil && *out.Error != "" {
			msg = *out.Error
		}
		return Result{}, errors.Execution(msg).WithField("job_id", req.JobID)
	}

	path := out.OutputPath
	if path == "" {
		path = req.OutputPath
	}
	return Result{
		OutputPath: path,
		Duration:   time.Duration(out.DurationSeconds * float64(time.Second)),
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, spec, into any) error {
	body, err := json.Marshal(spec)
	if err != nil {
		return errors.Wrap(err, "renderer.http", "marshal render spec")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "renderer.http", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.WrapWithCode(err, errors.CodeUnavailable, "renderer.http", "renderer unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errors.Execution(fmt.Sprintf("renderer http %d", res.StatusCode)).
			WithField("body", string(snippet))
	}
	if err := json.NewDecoder(res.Body).Decode(into); err != nil {
		return errors.WrapWithCode(err, errors.CodeExecution, "renderer.http", "invalid renderer response")
	}
	return nil
}
