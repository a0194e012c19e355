package model

// Envelope kinds delivered over a duplex connection. The core never
// interprets transport framing beyond accept/send/close; these are the
// JSON-shaped payloads it hands to the transport.
const (
	EnvelopeSystem   = "system"
	EnvelopeResponse = "response"
	EnvelopeError    = "error"
)

// Envelope is one outbound frame. Type is always set; the remaining fields
// depend on the kind: system and error frames carry Content, response frames
// carry the spy, the echoed user message and the assistant response.
type Envelope struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	SpyID          string `json:"spy_id,omitempty"`
	SpyName        string `json:"spy_name,omitempty"`
	Message        string `json:"message,omitempty"`
	Response       string `json:"response,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SystemEnvelope builds a system notification frame
func SystemEnvelope(content string) Envelope {
	return Envelope{Type: EnvelopeSystem, Content: content}
}

// ErrorEnvelope builds an error frame
func ErrorEnvelope(content string) Envelope {
	return Envelope{Type: EnvelopeError, Content: content}
}
