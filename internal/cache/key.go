package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"roomRenderAi/internal/imageapi"
)

// KeyInput is every field that influences a generated image. Fields are
// serialised in declaration order, which keeps the encoding canonical.
type KeyInput struct {
	Version string `json:"version"`
	Image   string `json:"image"`
	Size    string `json:"size"`
	Model   string `json:"model"`
	Intake  any    `json:"intake"`
	Prompt  string `json:"prompt"`
	Params  any    `json:"params"`
}

// ComputeKey hashes the input. The image reference is normalised first, so
// a re-signed URL or a re-encoded identical data URI maps to the same key.
func ComputeKey(in KeyInput) (string, error) {
	in.Image = imageapi.Identity(in.Image)
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("cache: encode key input: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
