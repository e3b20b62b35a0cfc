package decision

import (
	"strings"
)

const (
	sectionLogic = "【决策核心逻辑】"
	sectionMain  = "【主动作】"
	sectionAux   = "【辅助动作】"

	fieldReason = "【决策依据】"
	fieldParams = "【执行参数】"
)

// Parse reads raw decision text into a Decision. Structure is strict:
// every non-empty line must start with a known 【】 section header, the
// logic and main-action sections must both be present, and at most two
// auxiliary actions are honored. Any structural violation yields
// DefaultDecision, never a partial result. Sub-fields inside an action
// line are lenient and fall back to the 无 sentinel.
func Parse(raw string) Decision {
	d := Decision{Aux: [2]Action{NoAction(), NoAction()}}
	hasLogic := false
	hasMain := false
	auxCount := 0

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "【") {
			return DefaultDecision()
		}
		switch {
		case strings.HasPrefix(line, sectionLogic):
			d.Logic = trimFieldLead(strings.TrimPrefix(line, sectionLogic))
			hasLogic = true
		case strings.HasPrefix(line, sectionMain):
			d.Main = parseAction(strings.TrimPrefix(line, sectionMain))
			hasMain = true
		case strings.HasPrefix(line, sectionAux):
			if auxCount >= 2 {
				continue
			}
			d.Aux[auxCount] = parseAction(strings.TrimPrefix(line, sectionAux))
			auxCount++
		default:
			// Unknown bracketed section, tolerated and skipped.
		}
	}

	if !hasLogic || !hasMain {
		return DefaultDecision()
	}
	if d.Logic == "" {
		d.Logic = NoneField
	}
	return d
}

// parseAction splits one action line body into tag, reason and params.
// The body looks like "REPLY【决策依据】他在问我【执行参数】好的"; either
// sub-field may be missing and they may appear in either order.
func parseAction(body string) Action {
	act := Action{Reason: NoneField, Params: NoneField}

	ri := strings.Index(body, fieldReason)
	pi := strings.Index(body, fieldParams)

	tagEnd := len(body)
	if ri >= 0 && ri < tagEnd {
		tagEnd = ri
	}
	if pi >= 0 && pi < tagEnd {
		tagEnd = pi
	}
	act.Tag = ParseActionTag(body[:tagEnd])

	if ri >= 0 {
		reason := body[ri+len(fieldReason):]
		if pi > ri {
			reason = body[ri+len(fieldReason) : pi]
		}
		act.Reason = cleanField(reason)
	}
	if pi >= 0 {
		params := body[pi+len(fieldParams):]
		if ri > pi {
			params = body[pi+len(fieldParams) : ri]
		}
		act.Params = cleanField(params)
	}
	return act
}

func cleanField(s string) string {
	s = trimFieldLead(s)
	if s == "" {
		return NoneField
	}
	return s
}

func trimFieldLead(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "：:")
	return strings.TrimSpace(s)
}
