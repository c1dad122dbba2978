package view

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// EncodeProperties serializes a property bag into the compressed blob
// stored in partition files. Empty bags encode as nil.
func EncodeProperties(props map[string]string) ([]byte, error) {
	if len(props) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("view: failed to encode properties: %w", err)
	}
	return snappy.Encode(nil, data), nil
}

// DecodeProperties reverses EncodeProperties. A nil blob decodes to a nil
// map.
func DecodeProperties(blob []byte) (map[string]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	data, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("view: failed to decompress properties: %w", err)
	}
	var props map[string]string
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("view: failed to decode properties: %w", err)
	}
	return props, nil
}
