package environment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Descriptor identifies a request: document text, operation name and
// variables. Descriptors with the same document and structurally equal
// variables share a Key.
type Descriptor struct {
	Query         string
	OperationName string
	Variables     map[string]any
}

// Query is shorthand for a descriptor without operation name.
func Query(query string, vars map[string]any) Descriptor {
	return Descriptor{Query: query, Variables: vars}
}

// Key returns a stable hash of the descriptor. encoding/json writes map keys
// in sorted order, which makes the variable encoding canonical.
func (d Descriptor) Key() (string, error) {
	vars := d.Variables
	if len(vars) == 0 {
		vars = nil
	}
	b, err := json.Marshal(struct {
		Q string         `json:"q"`
		O string         `json:"o"`
		V map[string]any `json:"v"`
	}{d.Query, d.OperationName, vars})
	if err != nil {
		return "", fmt.Errorf("environment: descriptor variables: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
