package investigation

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes the aggregate in its persisted layout.
func Marshal(inv *Investigation) ([]byte, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("marshal investigation %s: %w", inv.ID, err)
	}
	return data, nil
}

// Unmarshal decodes a persisted aggregate.
func Unmarshal(data []byte) (*Investigation, error) {
	inv := &Investigation{}
	if err := json.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("unmarshal investigation: %w", err)
	}
	return inv, nil
}

// Clone returns a deep copy through the persisted layout, so a clone is
// exactly what a store round-trip would return.
func (inv *Investigation) Clone() *Investigation {
	data, err := Marshal(inv)
	if err != nil {
		// Every field is a plain value type; encoding cannot fail.
		panic(err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		panic(err)
	}
	return out
}
