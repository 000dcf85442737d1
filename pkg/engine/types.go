package engine

import "encoding/json"

// CallRequest is the session-creation handshake body. Field names follow
// the engine's wire format.
type CallRequest struct {
	SystemPrompt    string           `json:"systemPrompt"`
	Model           string           `json:"model"`
	Voice           string           `json:"voice"`
	Temperature     float64          `json:"temperature"`
	InitialMessages []InitialMessage `json:"initialMessages,omitempty"`
	Medium          Medium           `json:"medium"`
	VADSettings     *VADSettings     `json:"vadSettings,omitempty"`
	SelectedTools   []SelectedTool   `json:"selectedTools,omitempty"`
}

type InitialMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

const (
	RoleUser  = "MESSAGE_ROLE_USER"
	RoleAgent = "MESSAGE_ROLE_AGENT"
)

type Medium struct {
	ServerWebSocket ServerWebSocket `json:"serverWebSocket"`
}

type ServerWebSocket struct {
	InputSampleRate  int `json:"inputSampleRate"`
	OutputSampleRate int `json:"outputSampleRate"`
	ClientBufferSize int `json:"clientBufferSizeMs"`
}

// VADSettings are duration strings; the engine only honors multiples of
// the 32ms quantum.
type VADSettings struct {
	TurnEndpointDelay           string `json:"turnEndpointDelay"`
	MinimumTurnDuration         string `json:"minimumTurnDuration"`
	MinimumInterruptionDuration string `json:"minimumInterruptionDuration"`
}

// SelectedTool declares one tool for the active stage: either a
// client-side temporary tool or a server-side tool bound to an HTTP
// endpoint with parameter overrides.
type SelectedTool struct {
	ToolName           string         `json:"toolName,omitempty"`
	ParameterOverrides map[string]any `json:"parameterOverrides,omitempty"`
	TemporaryTool      *TemporaryTool `json:"temporaryTool,omitempty"`
}

type TemporaryTool struct {
	ModelToolName     string             `json:"modelToolName"`
	Description       string             `json:"description,omitempty"`
	DynamicParameters []DynamicParameter `json:"dynamicParameters,omitempty"`
	Timeout           string             `json:"timeout,omitempty"`
	Client            *ClientTool        `json:"client,omitempty"`
	HTTP              *HTTPTool          `json:"http,omitempty"`
}

type DynamicParameter struct {
	Name     string         `json:"name"`
	Location string         `json:"location"`
	Schema   map[string]any `json:"schema"`
	Required bool           `json:"required"`
}

const ParameterLocationBody = "PARAMETER_LOCATION_BODY"

type ClientTool struct{}

type HTTPTool struct {
	BaseURLPattern string `json:"baseUrlPattern"`
	HTTPMethod     string `json:"httpMethod"`
}

// CallResponse is the handshake reply; JoinURL opens the engine socket.
type CallResponse struct {
	CallID  string `json:"callId"`
	JoinURL string `json:"joinUrl"`
}

// Message is one decoded control frame from the engine socket.
type Message struct {
	Type string `json:"type"`

	// transcript
	Role  string `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	Delta string `json:"delta,omitempty"`
	Final bool   `json:"final,omitempty"`

	// client_tool_invocation
	ToolName     string          `json:"toolName,omitempty"`
	InvocationID string          `json:"invocationId,omitempty"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`

	// state
	State string `json:"state,omitempty"`

	// error
	Detail string `json:"detail,omitempty"`
}

const (
	MessageTranscript     = "transcript"
	MessageToolInvocation = "client_tool_invocation"
	MessageState          = "state"
	MessageError          = "error"
	MessageClearBuffer    = "playback_clear_buffer"
	MessageCallStarted    = "call_started"
)

// ParamMap decodes the invocation parameters into a string-keyed map.
func (m Message) ParamMap() map[string]any {
	params := map[string]any{}
	if len(m.Parameters) > 0 {
		_ = json.Unmarshal(m.Parameters, &params)
	}
	return params
}

// toolResult is the outbound client_tool_result frame.
type toolResult struct {
	Type         string `json:"type"`
	InvocationID string `json:"invocationId"`
	Result       string `json:"result,omitempty"`
	ResponseType string `json:"response_type,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

const (
	typeClientToolResult = "client_tool_result"

	ResponseTool     = "tool-response"
	ResponseNewStage = "new-stage"
)

// StageChange is the payload of a new-stage tool result: the full
// configuration the engine continues under, on the same socket.
type StageChange struct {
	SystemPrompt   string         `json:"systemPrompt"`
	Voice          string         `json:"voice"`
	ToolResultText string         `json:"toolResultText,omitempty"`
	SelectedTools  []SelectedTool `json:"selectedTools,omitempty"`
}
