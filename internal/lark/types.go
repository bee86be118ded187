package lark

import "encoding/json"

// Message modality constants as used in the event envelope's message_type.
const (
	MsgTypeText  = "text"
	MsgTypeAudio = "audio"
)

// EventTypeMessageReceive is the event header type for inbound messages.
const EventTypeMessageReceive = "im.message.receive_v1"

// WebhookBody is the union of the two inbound webhook shapes: the one-time
// url_verification handshake and the v2 event envelope.
type WebhookBody struct {
	// Handshake fields
	Type      string `json:"type,omitempty"`
	Token     string `json:"token,omitempty"`
	Challenge string `json:"challenge,omitempty"`

	// Event envelope fields
	Header EventHeader `json:"header,omitempty"`
	Event  EventBody   `json:"event,omitempty"`
}

// EventHeader carries the event type and delivery metadata.
type EventHeader struct {
	EventID    string `json:"event_id,omitempty"`
	EventType  string `json:"event_type,omitempty"`
	CreateTime string `json:"create_time,omitempty"`
	TenantKey  string `json:"tenant_key,omitempty"`
}

// EventBody wraps the message payload of an im.message.receive_v1 event.
type EventBody struct {
	Message EventMessage `json:"message,omitempty"`
}

// EventMessage is the inbound message descriptor. Content is itself a
// JSON-encoded string whose schema depends on MessageType.
type EventMessage struct {
	MessageID   string `json:"message_id"`
	ChatID      string `json:"chat_id"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
}

// TextContent is the decoded Content of a text message.
type TextContent struct {
	Text string `json:"text"`
}

// AudioContent is the decoded Content of an audio (voice) message.
type AudioContent struct {
	FileKey  string `json:"file_key"`
	Duration int    `json:"duration,omitempty"` // milliseconds
}

// Modality classifies the message variants the pipeline understands.
type Modality int

const (
	ModalityUnsupported Modality = iota
	ModalityText
	ModalityAudio
)

func (m Modality) String() string {
	switch m {
	case ModalityText:
		return "text"
	case ModalityAudio:
		return "audio"
	default:
		return "unsupported"
	}
}

// InboundEvent is the typed, validated view of one message-receive delivery.
// It is created per webhook request and discarded when the pipeline run ends.
type InboundEvent struct {
	MessageID string
	ChatID    string
	Modality  Modality
	Text      string // populated for ModalityText
	FileKey   string // populated for ModalityAudio
}

// ParseInboundEvent converts an event envelope into a typed InboundEvent,
// decoding the embedded content string according to message_type. Unknown
// message types yield ModalityUnsupported, not an error: the pipeline still
// replies with a fixed notice.
func ParseInboundEvent(msg *EventMessage) *InboundEvent {
	ev := &InboundEvent{
		MessageID: msg.MessageID,
		ChatID:    msg.ChatID,
		Modality:  ModalityUnsupported,
	}

	switch msg.MessageType {
	case MsgTypeText:
		var tc TextContent
		if err := json.Unmarshal([]byte(msg.Content), &tc); err == nil {
			ev.Modality = ModalityText
			ev.Text = tc.Text
		}
	case MsgTypeAudio:
		var ac AudioContent
		if err := json.Unmarshal([]byte(msg.Content), &ac); err == nil && ac.FileKey != "" {
			ev.Modality = ModalityAudio
			ev.FileKey = ac.FileKey
		}
	}

	return ev
}
