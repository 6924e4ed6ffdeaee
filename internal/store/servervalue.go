package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// serverValueKey marks a placeholder the store replaces with its own value at
// write time, e.g. {".sv":"timestamp"}.
const serverValueKey = ".sv"

// ServerTimestamp is the sentinel adapters resolve to their own clock.
func ServerTimestamp() map[string]string {
	return map[string]string{serverValueKey: "timestamp"}
}

// Encode marshals value to JSON and replaces every server-timestamp sentinel
// with now in epoch milliseconds.
func Encode(value any, now time.Time) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return ResolveServerValues(data, now)
}

// ResolveServerValues rewrites already encoded JSON, substituting sentinels.
func ResolveServerValues(data []byte, now time.Time) ([]byte, error) {
	if !bytes.Contains(data, []byte(serverValueKey)) {
		return data, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	resolved, err := json.Marshal(resolve(tree, now.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode resolved value: %w", err)
	}
	return resolved, nil
}

func resolve(node any, nowMs int64) any {
	switch v := node.(type) {
	case map[string]any:
		if len(v) == 1 {
			if kind, ok := v[serverValueKey].(string); ok && kind == "timestamp" {
				return nowMs
			}
		}
		for k, child := range v {
			v[k] = resolve(child, nowMs)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = resolve(child, nowMs)
		}
		return v
	default:
		return v
	}
}
