package api

import (
	"encoding/json"
	"fmt"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
)

// PayloadVersion is bumped whenever an event payload changes shape.
const PayloadVersion = 1

func envelope(profile string, evt bus.Event) (*EventEnvelope, error) {
	payload, err := encodePayload(evt.Payload)
	if err != nil {
		return nil, err
	}
	return &EventEnvelope{
		EventID:          uuid.NewString(),
		Profile:          profile,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
		Kind:             evt.Kind,
		PayloadVersion:   PayloadVersion,
		Payload:          payload,
	}, nil
}

// encodePayload converts a bus payload into a Struct through its JSON form.
func encodePayload(v any) (*structpb.Struct, error) {
	fields := map[string]any{}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			// Scalars and lists are wrapped.
			var scalar any
			if err := json.Unmarshal(raw, &scalar); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
			fields = map[string]any{"value": scalar}
		}
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return st, nil
}
