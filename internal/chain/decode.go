package chain

import (
	"encoding/json"
	"fmt"

	"balancechain/internal/segment"
	"balancechain/internal/store"
)

func jsonUnmarshalPayload(raw json.RawMessage, out any) error {
	return json.Unmarshal(raw, out)
}

// decodeStoredSegment reparses a store.StoredSegment's raw JSON back into
// a *segment.Segment for projection replay.
func decodeStoredSegment(stored store.StoredSegment) (*segment.Segment, error) {
	var seg segment.Segment
	if err := json.Unmarshal(stored.JSON, &seg); err != nil {
		return nil, fmt.Errorf("chain: unmarshal stored segment: %w", err)
	}
	return &seg, nil
}
