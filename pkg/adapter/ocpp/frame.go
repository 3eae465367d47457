package ocpp

import (
	"encoding/json"
	"fmt"

	"github.com/voltgrid/voltgrid/pkg/types"
)

// OCPP-J message type identifiers
const (
	MessageCall       = 2
	MessageCallResult = 3
	MessageCallError  = 4
)

// Frame is one parsed OCPP-J message. Exactly one of the payload
// interpretations applies depending on Type:
//
//	[2, id, action, payload]            call
//	[3, id, payload]                    call result
//	[4, id, code, description, details] call error
type Frame struct {
	Type    int
	ID      string
	Action  string
	Payload json.RawMessage

	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// MarshalCall encodes an outgoing call
func MarshalCall(id, action string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", action, err)
	}
	return json.Marshal([]any{MessageCall, id, action, json.RawMessage(raw)})
}

// MarshalCallResult encodes a call result for a received call
func MarshalCallResult(id string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal call result payload: %w", err)
	}
	return json.Marshal([]any{MessageCallResult, id, json.RawMessage(raw)})
}

// MarshalCallError encodes a call error for a received call
func MarshalCallError(id, code, description string) ([]byte, error) {
	return json.Marshal([]any{MessageCallError, id, code, description, struct{}{}})
}

// Parse decodes a raw OCPP-J frame
func Parse(data []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("frame is not a JSON array: %w", types.ErrProtocolViolation)
	}
	if len(parts) < 3 {
		return nil, fmt.Errorf("frame has %d elements: %w", len(parts), types.ErrProtocolViolation)
	}

	f := &Frame{}
	if err := json.Unmarshal(parts[0], &f.Type); err != nil {
		return nil, fmt.Errorf("bad message type: %w", types.ErrProtocolViolation)
	}
	if err := json.Unmarshal(parts[1], &f.ID); err != nil {
		return nil, fmt.Errorf("bad message id: %w", types.ErrProtocolViolation)
	}

	switch f.Type {
	case MessageCall:
		if len(parts) < 4 {
			return nil, fmt.Errorf("call frame has %d elements: %w", len(parts), types.ErrProtocolViolation)
		}
		if err := json.Unmarshal(parts[2], &f.Action); err != nil {
			return nil, fmt.Errorf("bad action: %w", types.ErrProtocolViolation)
		}
		f.Payload = parts[3]
	case MessageCallResult:
		f.Payload = parts[2]
	case MessageCallError:
		if len(parts) < 4 {
			return nil, fmt.Errorf("call error frame has %d elements: %w", len(parts), types.ErrProtocolViolation)
		}
		if err := json.Unmarshal(parts[2], &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("bad error code: %w", types.ErrProtocolViolation)
		}
		if err := json.Unmarshal(parts[3], &f.ErrorDescription); err != nil {
			return nil, fmt.Errorf("bad error description: %w", types.ErrProtocolViolation)
		}
		if len(parts) > 4 {
			f.ErrorDetails = parts[4]
		}
	default:
		return nil, fmt.Errorf("unknown message type %d: %w", f.Type, types.ErrProtocolViolation)
	}
	return f, nil
}
