package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonEngineHandshake ReasonCode = "engine_handshake"
	ReasonEngineDial      ReasonCode = "engine_dial"
	ReasonEngineSend      ReasonCode = "engine_send"

	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"

	ReasonProviderFetch  ReasonCode = "provider_fetch"
	ReasonProviderUpdate ReasonCode = "provider_update"

	ReasonWebhookCall   ReasonCode = "webhook_call"
	ReasonWebhookDecode ReasonCode = "webhook_decode"

	ReasonToolValidation ReasonCode = "tool_validation"
	ReasonToolExecution  ReasonCode = "tool_execution"
)
