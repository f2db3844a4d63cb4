// Package presets loads the named scene configurations a render can be
// submitted under. The built-in catalog is embedded; PRESETS_FILE replaces it.
package presets

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"proofrender/internal/pkg/errors"
)

//go:embed presets.yaml
var builtin []byte

// DefaultSamples is used when a preset omits samples.
const DefaultSamples = 128

type Vector3 struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

type Light struct {
	Type     string   `yaml:"type" json:"type"`
	Position *Vector3 `yaml:"position,omitempty" json:"position,omitempty"`
	Rotation *Vector3 `yaml:"rotation,omitempty" json:"rotation,omitempty"`
	Energy   float64  `yaml:"energy" json:"energy"`
	Color    string   `yaml:"color" json:"color"`
	Size     *float64 `yaml:"size,omitempty" json:"size,omitempty"`
}

// Preset is one scene configuration. Raw keeps the document exactly as it
// was written so scene hashes cover fields this type does not model.
type Preset struct {
	Name                string  `yaml:"name" json:"name"`
	DisplayName         string  `yaml:"displayName" json:"displayName"`
	Description         string  `yaml:"description" json:"description"`
	ThumbnailURL        string  `yaml:"thumbnailUrl,omitempty" json:"thumbnailUrl,omitempty"`
	CameraPosition      Vector3 `yaml:"cameraPosition" json:"cameraPosition"`
	CameraRotation      Vector3 `yaml:"cameraRotation" json:"cameraRotation"`
	BackgroundColor     string  `yaml:"backgroundColor" json:"backgroundColor"`
	Lights              []Light `yaml:"lights" json:"lights"`
	Samples             int     `yaml:"samples" json:"samples"`
	ColorTemperature    *int    `yaml:"colorTemperature,omitempty" json:"colorTemperature,omitempty"`
	EstimatedRenderTime string  `yaml:"estimatedRenderTime,omitempty" json:"estimatedRenderTime,omitempty"`
	RecommendedFor      string  `yaml:"recommendedFor,omitempty" json:"recommendedFor,omitempty"`
	ShadowsEnabled      *bool   `yaml:"shadowsEnabled,omitempty" json:"shadowsEnabled,omitempty"`

	Raw map[string]any `yaml:"-" json:"-"`
}

// Catalog is an immutable, ordered set of presets.
type Catalog struct {
	order  []string
	byName map[string]Preset
}

// Load reads the catalog from path, or the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(builtin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.CodeNotFound, "presets.load", "presets file not found: "+path)
		}
		return nil, errors.Wrap(err, "presets.load", "read presets file")
	}
	return Parse(data)
}

// Parse decodes a presets document. Every preset needs a unique name and at
// least one light.
func Parse(data []byte) (*Catalog, error) {
	var typed struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &typed); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "presets.parse", "invalid presets YAML")
	}
	var raw struct {
		Presets []map[string]any `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "presets.parse", "invalid presets YAML")
	}
	if len(typed.Presets) == 0 {
		return nil, errors.Validation("presets document must contain a non-empty 'presets' list")
	}

	c := &Catalog{byName: make(map[string]Preset, len(typed.Presets))}
	for i, p := range typed.Presets {
		if p.Name == "" {
			return nil, errors.Validationf("preset #%d has no name", i)
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, errors.Validationf("duplicate preset name %q", p.Name)
		}
		if len(p.Lights) == 0 {
			return nil, errors.Validationf("preset %q has no lights", p.Name)
		}
		if p.Samples <= 0 {
			p.Samples = DefaultSamples
		}
		p.Raw = raw.Presets[i]
		c.byName[p.Name] = p
		c.order = append(c.order, p.Name)
	}
	return c, nil
}

// Names returns preset names in document order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.order)
}

// List returns all presets in document order.
func (c *Catalog) List() []Preset {
	out := make([]Preset, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.byName[n])
	}
	return out
}

// Get returns the named preset or a NOT_FOUND error listing what exists.
func (c *Catalog) Get(name string) (Preset, error) {
	p, ok := c.byName[name]
	if !ok {
		return Preset{}, errors.NotFound("preset", name).
			WithField("available", c.Names())
	}
	return p, nil
}

// Validate checks name against the catalog. Unknown names are a
// VALIDATION_ERROR whose message and fields list the valid names.
func (c *Catalog) Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.ValidationField("preset", "preset name must be a non-empty string")
	}
	if _, ok := c.byName[name]; ok {
		return nil
	}
	return errors.New(errors.CodeValidation,
		fmt.Sprintf("invalid preset %q, available presets: %s", name, strings.Join(c.order, ", "))).
		WithField("field", "preset").
		WithField("valid_presets", c.Names())
}
