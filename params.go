package lattix

import "encoding/json"

// DecodeParams maps a tool's loosely-typed parameter map onto a typed
// params struct via JSON round-trip. The selector emits JSON, so the
// map's values are already JSON-shaped.
func DecodeParams(params map[string]any, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
