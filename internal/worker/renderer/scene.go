package renderer

import (
	"bytes"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"proofrender/internal/pkg/errors"
)

//go:embed scene.py.tmpl
var sceneSource string

var sceneTemplate = template.Must(template.New("scene").Funcs(template.FuncMap{
	"pystr": strconv.Quote,
	"rgb": func(hex string) string {
		r, g, b := hexToRGB(hex)
		return fmt.Sprintf("(%.4f, %.4f, %.4f)", r, g, b)
	},
	"rgba": func(hex string) string {
		r, g, b := hexToRGB(hex)
		return fmt.Sprintf("(%.4f, %.4f, %.4f, 1.0)", r, g, b)
	},
}).Parse(sceneSource))

// SceneScript renders the Blender Python script for req.
func SceneScript(req Request) (string, error) {
	var buf bytes.Buffer
	if err := sceneTemplate.Execute(&buf, req); err != nil {
		return "", errors.Wrap(err, "renderer.scene", "render scene script")
	}
	return buf.String(), nil
}

// hexToRGB converts #rrggbb (or #rgb) to 0..1 floats. Malformed input is
// rendered black.
func hexToRGB(hex string) (float64, float64, float64) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return float64(v>>16&0xff) / 255, float64(v>>8&0xff) / 255, float64(v&0xff) / 255
}
