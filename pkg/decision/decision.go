package decision

import (
	"strings"
)

// ActionTag is the closed set of actions a decision may request. Parsed
// text is validated against this set; anything else becomes
// ActionUnknown rather than matching by substring.
type ActionTag int

const (
	// ActionNone marks an unset auxiliary slot. Execution skips it, so
	// callers never branch on nil.
	ActionNone ActionTag = iota
	ActionSilent
	ActionReply
	ActionAt
	ActionReplyTo
	ActionSearch
	ActionDownload
	ActionUnknown
)

var tagNames = map[ActionTag]string{
	ActionNone:     "NONE",
	ActionSilent:   "SILENT",
	ActionReply:    "REPLY",
	ActionAt:       "AT",
	ActionReplyTo:  "REPLY_TO_MESSAGE",
	ActionSearch:   "SEARCH",
	ActionDownload: "DOWNLOAD",
	ActionUnknown:  "UNKNOWN",
}

func (t ActionTag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseActionTag maps a raw tag field to the closed tag set. Matching is
// case-normalized and exact; an empty field reads as SILENT.
func ParseActionTag(raw string) ActionTag {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.Trim(normalized, "：:")
	normalized = strings.TrimSpace(normalized)

	switch normalized {
	case "", "SILENT":
		return ActionSilent
	case "REPLY":
		return ActionReply
	case "AT":
		return ActionAt
	case "REPLY_TO_MESSAGE":
		return ActionReplyTo
	case "SEARCH":
		return ActionSearch
	case "DOWNLOAD":
		return ActionDownload
	default:
		return ActionUnknown
	}
}

// NoneField is the sentinel for a sub-field the model did not provide.
const NoneField = "无"

// Action is one tagged slot of a decision.
type Action struct {
	Tag    ActionTag
	Reason string
	Params string
}

// NoAction is the sentinel for an unset slot.
func NoAction() Action {
	return Action{Tag: ActionNone, Reason: NoneField, Params: NoneField}
}

// Decision is one parsed multi-action decision. Aux slots that the text
// did not fill hold the NoAction sentinel.
type Decision struct {
	Logic string
	Main  Action
	Aux   [2]Action
}

// DefaultDecision is the canonical fallback for structurally malformed
// decision text: do nothing, record why.
func DefaultDecision() Decision {
	return Decision{
		Logic: "解析失败",
		Main:  Action{Tag: ActionSilent, Reason: NoneField, Params: NoneField},
		Aux:   [2]Action{NoAction(), NoAction()},
	}
}
