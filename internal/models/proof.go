package models

import "time"

// ProofTimestampLayout renders UTC instants with a Z suffix and microseconds.
const ProofTimestampLayout = "2006-01-02T15:04:05.000000Z"

// Proof records what was rendered, from which input, under which scene
// configuration and when. It is immutable once written.
type Proof struct {
	AssetHash       string        `json:"assetHash"`
	SceneParamsHash string        `json:"sceneParamsHash"`
	OutputHash      string        `json:"outputHash"`
	Timestamp       string        `json:"timestamp"`
	ProviderJobID   string        `json:"providerJobId"`
	AidpJobID       string        `json:"aidpJobId"`
	Metadata        ProofMetadata `json:"metadata"`
}

type ProofMetadata struct {
	PresetName     string  `json:"presetName"`
	Resolution     string  `json:"resolution"`
	Samples        int     `json:"samples"`
	BlenderVersion string  `json:"blenderVersion"`
	RenderDuration float64 `json:"renderDuration"`
}

// FormatProofTime formats t for Proof.Timestamp.
func FormatProofTime(t time.Time) string {
	return t.UTC().Format(ProofTimestampLayout)
}
