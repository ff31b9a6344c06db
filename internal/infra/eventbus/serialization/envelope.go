package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/compliance-armada/internal/domain/events"
)

const (
	fieldType      = "type"
	fieldKey       = "key"
	fieldTimestamp = "timestamp"
	fieldHeaders   = "headers"
	fieldPayload   = "payload"
)

// MarshalEnvelope encodes an envelope and its payload into bytes.
func MarshalEnvelope(evt events.EventEnvelope) ([]byte, error) {
	payload, err := EncodePayload(evt.Type, evt.Payload)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]any, len(evt.Headers))
	for k, v := range evt.Headers {
		headers[k] = v
	}
	hs, err := structpb.NewStruct(headers)
	if err != nil {
		return nil, fmt.Errorf("encoding headers: %w", err)
	}

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldType:      structpb.NewStringValue(string(evt.Type)),
		fieldKey:       structpb.NewStringValue(evt.Key),
		fieldTimestamp: structpb.NewStringValue(ts.UTC().Format(time.RFC3339Nano)),
		fieldHeaders:   structpb.NewStructValue(hs),
		fieldPayload:   structpb.NewStructValue(payload),
	}}

	return proto.Marshal(env)
}

// UnmarshalEnvelope decodes bytes produced by MarshalEnvelope.
func UnmarshalEnvelope(data []byte) (events.EventEnvelope, error) {
	var env structpb.Struct
	if err := proto.Unmarshal(data, &env); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	f := env.GetFields()
	eventType := events.EventType(f[fieldType].GetStringValue())
	if eventType == "" {
		return events.EventEnvelope{}, fmt.Errorf("unmarshal envelope: missing event type")
	}

	ts, err := time.Parse(time.RFC3339Nano, f[fieldTimestamp].GetStringValue())
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("unmarshal envelope timestamp: %w", err)
	}

	var headers map[string]string
	if hs := f[fieldHeaders].GetStructValue(); len(hs.GetFields()) > 0 {
		headers = make(map[string]string, len(hs.GetFields()))
		for k, v := range hs.GetFields() {
			headers[k] = v.GetStringValue()
		}
	}

	payload, err := DecodePayload(eventType, f[fieldPayload].GetStructValue())
	if err != nil {
		return events.EventEnvelope{}, err
	}

	return events.EventEnvelope{
		Type:      eventType,
		Key:       f[fieldKey].GetStringValue(),
		Headers:   headers,
		Timestamp: ts,
		Payload:   payload,
	}, nil
}
