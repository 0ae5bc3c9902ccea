package registry

import (
	"encoding/json"
	"testing"

	"github.com/swapdesk/swapdesk-backend/pkg/enums"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventDisputeRaised, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded map[string]string
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"reason":"seller unresponsive"}`)
	output, err := reg.Decode(enums.EventDisputeRaised, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outMap, ok := output.(map[string]string); !ok || outMap["reason"] != "seller unresponsive" {
		t.Fatalf("unexpected output %+v", output)
	}
}
