package protocol

import (
	"encoding/json"
	"time"
)

const (
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Methods accepted on the control channel.
const (
	MethodPing           = "ping"
	MethodStartListening = "start_listening"
	MethodStopListening  = "stop_listening"
	MethodGetConfig      = "get_config"
	MethodUpdateConfig   = "update_config"
	MethodShutdown       = "shutdown"
)

// Events emitted on the control channel.
const (
	EventStatusChanged   = "status_changed"
	EventTranscriptReady = "transcript_ready"
	EventMetrics         = "metrics"
	EventRuntimeError    = "runtime_error"
)

// Values of status_changed.status.
const (
	StatusReady        = "ready"
	StatusListening    = "listening"
	StatusTranscribing = "transcribing"
	StatusLowConf      = "low_conf"
	StatusError        = "error"
)

const ErrorCodeRequestFailed = "request_failed"

// Request is one inbound line. ID is echoed verbatim, whatever its JSON type.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Response struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id"`
	OK     bool            `json:"ok"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

type Event struct {
	Type  string         `json:"type"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
	TS    float64        `json:"ts"`
}

func NewResponse(id json.RawMessage, result any) Response {
	return Response{Type: TypeResponse, ID: normalizeID(id), OK: true, Result: result}
}

func NewErrorResponse(id json.RawMessage, code, message string) Response {
	return Response{Type: TypeResponse, ID: normalizeID(id), OK: false, Error: &ErrorBody{Code: code, Message: message}}
}

// NewEvent stamps an event with fractional Unix seconds.
func NewEvent(name string, data map[string]any, at time.Time) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:  TypeEvent,
		Event: name,
		Data:  data,
		TS:    float64(at.UnixNano()) / 1e9,
	}
}

// TraceID returns the correlation id carried in data, if any.
func (e Event) TraceID() string {
	id, _ := e.Data["trace_id"].(string)
	return id
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
