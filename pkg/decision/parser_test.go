package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullDecision(t *testing.T) {
	raw := `【决策核心逻辑】有人问我漫画，先搜索再回复
【主动作】SEARCH【决策依据】他报了作品名【执行参数】无职转生
【辅助动作】REPLY【决策依据】顺口接一句【执行参数】稍等，我找找
【辅助动作】AT【决策依据】提醒提问的人【执行参数】10001`

	d := Parse(raw)
	assert.Equal(t, "有人问我漫画，先搜索再回复", d.Logic)
	assert.Equal(t, ActionSearch, d.Main.Tag)
	assert.Equal(t, "他报了作品名", d.Main.Reason)
	assert.Equal(t, "无职转生", d.Main.Params)
	assert.Equal(t, ActionReply, d.Aux[0].Tag)
	assert.Equal(t, "稍等，我找找", d.Aux[0].Params)
	assert.Equal(t, ActionAt, d.Aux[1].Tag)
	assert.Equal(t, "10001", d.Aux[1].Params)
}

func TestParseMainOnly(t *testing.T) {
	d := Parse("【决策核心逻辑】没什么好说的\n【主动作】SILENT【决策依据】无【执行参数】无")
	assert.Equal(t, "没什么好说的", d.Logic)
	assert.Equal(t, ActionSilent, d.Main.Tag)
	assert.Equal(t, ActionNone, d.Aux[0].Tag)
	assert.Equal(t, ActionNone, d.Aux[1].Tag)
}

func TestParseMissingSubFields(t *testing.T) {
	d := Parse("【决策核心逻辑】回一句\n【主动作】REPLY【执行参数】好的")
	require.Equal(t, ActionReply, d.Main.Tag)
	assert.Equal(t, NoneField, d.Main.Reason)
	assert.Equal(t, "好的", d.Main.Params)

	d = Parse("【决策核心逻辑】沉默\n【主动作】SILENT")
	require.Equal(t, ActionSilent, d.Main.Tag)
	assert.Equal(t, NoneField, d.Main.Reason)
	assert.Equal(t, NoneField, d.Main.Params)
}

func TestParseSubFieldsInEitherOrder(t *testing.T) {
	d := Parse("【决策核心逻辑】顺序反了也要认\n【主动作】REPLY【执行参数】好的【决策依据】他在催我")
	require.Equal(t, ActionReply, d.Main.Tag)
	assert.Equal(t, "好的", d.Main.Params)
	assert.Equal(t, "他在催我", d.Main.Reason)
}

func TestParseThirdAuxIgnored(t *testing.T) {
	raw := `【决策核心逻辑】多动作
【主动作】REPLY【执行参数】一
【辅助动作】REPLY【执行参数】二
【辅助动作】REPLY【执行参数】三
【辅助动作】REPLY【执行参数】四`

	d := Parse(raw)
	assert.Equal(t, "二", d.Aux[0].Params)
	assert.Equal(t, "三", d.Aux[1].Params)
}

func TestParseMalformedFallsBack(t *testing.T) {
	cases := map[string]string{
		"naked line":    "【决策核心逻辑】x\n好的，我来回复\n【主动作】REPLY【执行参数】y",
		"missing main":  "【决策核心逻辑】只有逻辑",
		"missing logic": "【主动作】REPLY【执行参数】y",
		"empty input":   "",
		"plain prose":   "我觉得应该回复他。",
	}
	for name, raw := range cases {
		d := Parse(raw)
		assert.Equal(t, DefaultDecision(), d, name)
	}
}

func TestParseUnknownSectionIgnored(t *testing.T) {
	raw := "【决策核心逻辑】ok\n【思考过程】这是模型多嘴\n【主动作】SILENT"
	d := Parse(raw)
	assert.Equal(t, "ok", d.Logic)
	assert.Equal(t, ActionSilent, d.Main.Tag)
}

func TestParseActionTagNormalization(t *testing.T) {
	assert.Equal(t, ActionReply, ParseActionTag("reply"))
	assert.Equal(t, ActionReply, ParseActionTag("  Reply ："))
	assert.Equal(t, ActionSilent, ParseActionTag(""))
	assert.Equal(t, ActionReplyTo, ParseActionTag("reply_to_message"))
	assert.Equal(t, ActionUnknown, ParseActionTag("REPLY_NOW"))
	assert.Equal(t, ActionUnknown, ParseActionTag("REPLYAT"))
	assert.Equal(t, ActionUnknown, ParseActionTag("FETCH"))
}

func TestParseColonAfterHeader(t *testing.T) {
	d := Parse("【决策核心逻辑】：他在问价格\n【主动作】REPLY【执行参数】：不知道")
	assert.Equal(t, "他在问价格", d.Logic)
	assert.Equal(t, "不知道", d.Main.Params)
}
