// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package display

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodeEvent encodes an event as CBOR: [event_type, payload_map]
func EncodeEvent(e Event) ([]byte, error) {
	payload := map[int]interface{}{}

	switch e.Type {
	case EventScreen:
		payload[keyTitle] = e.Title
		payload[keySSID] = e.SSID
		payload[keyURL1] = e.URL1
		payload[keyURL2] = e.URL2
	case EventWiFi:
		payload[keyStatus] = uint64(e.Status)
		payload[keyURL1] = e.URL1
		payload[keyURL2] = e.URL2
		if e.Details != "" {
			payload[keyDetails] = e.Details
		}
	case EventUSB:
		payload[keyConnected] = e.Connected
	case EventCommand:
		payload[keyCommand] = uint64(e.Command)
	default:
		return nil, fmt.Errorf("unknown event type: %d", e.Type)
	}

	data, err := cbor.Marshal([]interface{}{uint64(e.Type), payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// DecodeEvent parses a CBOR display event
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if len(data) == 0 {
		return e, fmt.Errorf("empty CBOR payload")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return e, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return e, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	t, ok := msg[0].(uint64)
	if !ok || t > 255 {
		return e, fmt.Errorf("invalid event type: %v", msg[0])
	}
	e.Type = EventType(t)

	payload, err := toIntMap(msg[1])
	if err != nil {
		return e, err
	}

	e.Title = mapString(payload, keyTitle)
	e.SSID = mapString(payload, keySSID)
	e.URL1 = mapString(payload, keyURL1)
	e.URL2 = mapString(payload, keyURL2)
	e.Details = mapString(payload, keyDetails)
	if v, ok := payload[keyStatus].(uint64); ok {
		e.Status = WiFiStatus(v)
	}
	if v, ok := payload[keyConnected].(bool); ok {
		e.Connected = v
	}
	if v, ok := payload[keyCommand].(uint64); ok {
		e.Command = Command(v)
	}

	return e, nil
}

// toIntMap converts a decoded CBOR map into integer keys
func toIntMap(v interface{}) (map[int]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map or nil for payload, got %T", v)
	}

	payload := make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return payload, nil
}

func mapString(m map[int]interface{}, key int) string {
	s, _ := m[key].(string)
	return s
}
