package napcat

import (
	"strconv"

	"github.com/linxiaolu/xiaolubot/pkg/bus"
)

// ActionSendGroupMsg is the OneBot action for posting into a group.
const ActionSendGroupMsg = "send_group_msg"

// MessageBuilder accumulates the segments of one group message. The
// decision engine composes all actions of a cycle into one builder so a
// single send carries the whole result.
type MessageBuilder struct {
	groupID  string
	segments []bus.Segment
}

// NewMessageBuilder creates a builder for a target group.
func NewMessageBuilder(groupID string) *MessageBuilder {
	return &MessageBuilder{groupID: groupID}
}

// Text appends a text segment.
func (b *MessageBuilder) Text(text string) *MessageBuilder {
	b.segments = append(b.segments, bus.TextSegment(text))
	return b
}

// Image appends an image segment.
func (b *MessageBuilder) Image(file string) *MessageBuilder {
	b.segments = append(b.segments, bus.ImageSegment(file))
	return b
}

// At appends a mention segment.
func (b *MessageBuilder) At(target string) *MessageBuilder {
	b.segments = append(b.segments, bus.AtSegment(target))
	return b
}

// ReplyTo threads the message onto an earlier one. The reply segment
// must come first in the segment list.
func (b *MessageBuilder) ReplyTo(messageID string) *MessageBuilder {
	b.segments = append([]bus.Segment{bus.ReplySegment(messageID)}, b.segments...)
	return b
}

// File appends a file upload segment.
func (b *MessageBuilder) File(name, file string) *MessageBuilder {
	b.segments = append(b.segments, bus.FileSegment(name, file))
	return b
}

// Empty reports whether nothing has been added.
func (b *MessageBuilder) Empty() bool {
	return len(b.segments) == 0
}

// Payload finalizes the builder into an outbound payload.
func (b *MessageBuilder) Payload(channel, echo string) bus.Payload {
	return bus.Payload{
		Channel:  channel,
		Action:   ActionSendGroupMsg,
		Echo:     echo,
		GroupID:  b.groupID,
		Segments: b.segments,
	}
}

// wireFrame is the OneBot API request shape.
type wireFrame struct {
	Action string     `json:"action"`
	Params wireParams `json:"params"`
	Echo   string     `json:"echo"`
}

type wireParams struct {
	GroupID int64         `json:"group_id"`
	Message []bus.Segment `json:"message"`
}

// toWire converts an outbound payload to the OneBot wire frame.
func toWire(p bus.Payload) wireFrame {
	groupID, _ := strconv.ParseInt(p.GroupID, 10, 64)
	return wireFrame{
		Action: p.Action,
		Params: wireParams{GroupID: groupID, Message: p.Segments},
		Echo:   p.Echo,
	}
}
