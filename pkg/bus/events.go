package bus

import (
	"time"
)

// Segment is one unit of a message body: text, image, at, reply, file.
type Segment struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// TextSegment builds a plain text segment.
func TextSegment(text string) Segment {
	return Segment{Type: "text", Data: map[string]interface{}{"text": text}}
}

// ImageSegment builds an image segment from a local path or URL.
func ImageSegment(file string) Segment {
	return Segment{Type: "image", Data: map[string]interface{}{"file": file, "summary": "[图片]"}}
}

// AtSegment builds a mention segment. "all" mentions everyone.
func AtSegment(target string) Segment {
	return Segment{Type: "at", Data: map[string]interface{}{"qq": target}}
}

// ReplySegment builds a reply-threading segment referencing a message id.
func ReplySegment(messageID string) Segment {
	return Segment{Type: "reply", Data: map[string]interface{}{"id": messageID}}
}

// FileSegment builds a file upload segment.
func FileSegment(name, file string) Segment {
	return Segment{Type: "file", Data: map[string]interface{}{"file": file, "name": name}}
}

// Text returns the text of a text segment, or "" for other types.
func (s Segment) Text() string {
	if s.Type != "text" {
		return ""
	}
	text, _ := s.Data["text"].(string)
	return text
}

// Envelope is a normalized inbound chat event from a transport channel.
type Envelope struct {
	Channel          string    `json:"channel"`
	ConversationType string    `json:"conversation_type"`
	GroupID          string    `json:"group_id"`
	SenderID         string    `json:"sender_id"`
	SenderName       string    `json:"sender_name"`
	SenderRole       string    `json:"sender_role"`
	Timestamp        time.Time `json:"timestamp"`
	MessageID        string    `json:"message_id"`
	Segments         []Segment `json:"segments"`
}

// ConversationKey returns the stable registry key for this conversation.
func (e *Envelope) ConversationKey() string {
	return e.Channel + ":" + e.GroupID
}

// Payload is an outbound command for a transport channel. Echo is the
// opaque token the transport's reply carries back for correlation.
type Payload struct {
	Channel  string    `json:"channel"`
	Action   string    `json:"action"`
	Echo     string    `json:"echo"`
	GroupID  string    `json:"group_id"`
	Segments []Segment `json:"segments"`
}

// SendResult is the transport's asynchronous delivery report, matched to
// the originating Payload by Echo.
type SendResult struct {
	Echo    string                 `json:"echo"`
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// OK reports whether the transport confirmed delivery.
func (r SendResult) OK() bool {
	return r.Status == "ok"
}
