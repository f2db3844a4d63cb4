// Package proof computes the content hashes that tie a render output to the
// asset and scene configuration it was produced from.
package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"time"

	"proofrender/internal/models"
	"proofrender/internal/pkg/errors"
	"proofrender/internal/pkg/logger"
	"proofrender/internal/presets"
)

// ChunkSize bounds the memory used while hashing a file.
const ChunkSize = 8 << 10

var (
	// ErrFileHash marks a file that exists but could not be read.
	ErrFileHash = stderrors.New("file hash error")
	// ErrPresetNotFound marks a proof requested for an unknown preset.
	ErrPresetNotFound = stderrors.New("preset not found")
)

// HashFile returns the lowercase hex SHA-256 of the file at path, reading
// it ChunkSize bytes at a time. A missing file is NOT_FOUND; any other read
// failure wraps ErrFileHash.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", errors.WrapWithCode(err, errors.CodeNotFound, "proof.hash", "file not found: "+path)
		}
		return "", hashErr(err, path)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", hashErr(err, path)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashScene hashes the canonical JSON form of a scene configuration: keys
// sorted at every level, no insignificant whitespace. Key insertion order
// never changes the digest.
func HashScene(config map[string]any) (string, error) {
	data, err := Canonical(config)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical returns the canonical JSON encoding of v.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "proof.canonical", "scene config is not serializable")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Input describes one finished render.
type Input struct {
	JobID          string
	AssetPath      string
	PresetName     string
	OutputPath     string
	ProviderJobID  string
	RenderDuration time.Duration
}

// Generator builds proof records.
type Generator struct {
	catalog       *presets.Catalog
	resolution    string
	engineVersion string
	now           func() time.Time
	log           *logger.Logger
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(g *Generator) { g.log = log.WithComponent("proof") }
}

func NewGenerator(catalog *presets.Catalog, resolution, engineVersion string, opts ...Option) *Generator {
	g := &Generator{
		catalog:       catalog,
		resolution:    resolution,
		engineVersion: engineVersion,
		now:           time.Now,
		log:           logger.NewDiscard(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate hashes the asset, the preset configuration and the output. An
// unknown preset wraps ErrPresetNotFound and is NOT_FOUND, distinct from
// hashing failures which wrap ErrFileHash.
func (g *Generator) Generate(in Input) (models.Proof, error) {
	assetHash, err := HashFile(in.AssetPath)
	if err != nil {
		return models.Proof{}, err
	}

	preset, err := g.catalog.Get(in.PresetName)
	if err != nil {
		return models.Proof{}, &errors.Error{
			Code:    errors.CodeNotFound,
			Op:      "proof.generate",
			Message: "unknown preset: " + in.PresetName,
			Err:     errors.Join(ErrPresetNotFound, err),
			Fields:  map[string]any{"preset": in.PresetName},
		}
	}
	sceneHash, err := HashScene(preset.Raw)
	if err != nil {
		return models.Proof{}, err
	}

	outputHash, err := HashFile(in.OutputPath)
	if err != nil {
		return models.Proof{}, err
	}

	p := models.Proof{
		AssetHash:       assetHash,
		SceneParamsHash: sceneHash,
		OutputHash:      outputHash,
		Timestamp:       models.FormatProofTime(g.now()),
		ProviderJobID:   in.ProviderJobID,
		AidpJobID:       in.ProviderJobID,
		Metadata: models.ProofMetadata{
			PresetName:     in.PresetName,
			Resolution:     g.resolution,
			Samples:        preset.Samples,
			BlenderVersion: g.engineVersion,
			RenderDuration: in.RenderDuration.Seconds(),
		},
	}
	g.log.WithJobID(in.JobID).Info("proof generated",
		"preset", in.PresetName,
		"output_hash", outputHash,
	)
	return p, nil
}

// Encode renders a proof as the pretty-printed proof.json document.
func Encode(p models.Proof) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "proof.encode", "marshal proof")
	}
	return data, nil
}

// Decode parses a proof.json document.
func Decode(r io.Reader) (models.Proof, error) {
	var p models.Proof
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return p, errors.WrapWithCode(err, errors.CodeValidation, "proof.decode", "invalid proof document")
	}
	return p, nil
}

// Mismatch names one hash that no longer matches its source.
type Mismatch struct {
	Field    string
	Expected string
	Actual   string
}

// Verify recomputes the three hashes of p from the given sources and
// returns every field that differs.
func (g *Generator) Verify(p models.Proof, assetPath, outputPath string) ([]Mismatch, error) {
	preset, err := g.catalog.Get(p.Metadata.PresetName)
	if err != nil {
		return nil, errors.WrapWithCode(errors.Join(ErrPresetNotFound, err), errors.CodeNotFound, "proof.verify", "unknown preset: "+p.Metadata.PresetName)
	}

	assetHash, err := HashFile(assetPath)
	if err != nil {
		return nil, err
	}
	sceneHash, err := HashScene(preset.Raw)
	if err != nil {
		return nil, err
	}
	outputHash, err := HashFile(outputPath)
	if err != nil {
		return nil, err
	}

	var out []Mismatch
	for _, c := range []Mismatch{
		{"assetHash", p.AssetHash, assetHash},
		{"sceneParamsHash", p.SceneParamsHash, sceneHash},
		{"outputHash", p.OutputHash, outputHash},
	} {
		if c.Expected != c.Actual {
			out = append(out, c)
		}
	}
	return out, nil
}

func hashErr(err error, path string) error {
	return errors.WrapWithCode(errors.Join(ErrFileHash, err), errors.CodeInternal, "proof.hash", "error reading file: "+path)
}
