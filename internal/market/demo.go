package market

import (
	_ "embed"
	"fmt"
)

//go:embed demo/latest.json
var demoSnapshot []byte

// Demo returns the bundled dataset shown when nothing could ever be loaded
func Demo() (*Snapshot, error) {
	s, err := Decode(demoSnapshot)
	if err != nil {
		return nil, fmt.Errorf("decode demo snapshot: %w", err)
	}
	s.Origin = OriginDemo
	return s, nil
}
