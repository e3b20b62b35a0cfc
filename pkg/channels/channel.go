package channels

import (
	"strings"

	"github.com/linxiaolu/xiaolubot/pkg/bus"
)

// Channel is the interface for chat transports. A channel turns
// platform events into envelopes on the bus and delivers payloads
// addressed to it.
type Channel interface {
	Start() error
	Stop() error
	Send(p bus.Payload) error
	Name() string
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowFrom []string
}

// IsAllowed checks if a sender may talk to the bot. An empty allowlist
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range c.AllowFrom {
		if allowed == senderID {
			return true
		}
		// Composite IDs like "id|username".
		if strings.Contains(senderID, "|") {
			for _, part := range strings.Split(senderID, "|") {
				if part == allowed {
					return true
				}
			}
		}
	}
	return false
}
