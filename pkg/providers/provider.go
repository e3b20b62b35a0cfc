package providers

import (
	"context"
)

// Message is one chat turn. Content is a string for plain text or a
// segment list for multimodal (vision) content.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content interface{}) Message {
	return Message{Role: "user", Content: content}
}

// VisionContent builds the multimodal content body for an image-
// description request: the image by URL plus a text instruction.
func VisionContent(imageURL, text string) []map[string]interface{} {
	return []map[string]interface{}{
		{
			"type": "image_url",
			"image_url": map[string]interface{}{
				"url":    imageURL,
				"detail": "high",
			},
		},
		{
			"type": "text",
			"text": text,
		},
	}
}

// LLMProvider is the single contract for the black-box completion
// service: one call, one text answer.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, model string) (string, error)
	GetDefaultModel() string
}
