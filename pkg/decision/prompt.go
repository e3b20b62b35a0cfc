package decision

import (
	"strings"
)

const decisionTemplate = `你正在围观一个QQ群的聊天。

你最近的行为记忆如下：
{action_memory}

该群最近的聊天记录如下：
{chat_context}

你可以使用的动作如下：
{tools}

请基于聊天语境、你的人设和行为记忆做出一次决策。输出必须严格遵循以下格式，每行以【】标签开头：
【决策核心逻辑】用一句话说明这次决策的核心理由
【主动作】动作标签【决策依据】选择该动作的依据【执行参数】该动作的执行参数
【辅助动作】动作标签【决策依据】依据【执行参数】参数

约束：
1. 主动作必须有且只有一个；辅助动作可以没有，最多两个。
2. 不需要任何动作时，主动作填SILENT。
3. 某个字段没有内容时填“无”。
4. 除上述格式外，严禁输出任何多余内容。`

// BuildPrompt interpolates memory, chat context and the action
// vocabulary into the decision template.
func BuildPrompt(memory []string, chat string, vocab Vocabulary) string {
	memText := "（暂无行为记忆）"
	if len(memory) > 0 {
		memText = strings.Join(memory, "\n")
	}
	r := strings.NewReplacer(
		"{action_memory}", memText,
		"{chat_context}", chat,
		"{tools}", vocab.Render(),
	)
	return r.Replace(decisionTemplate)
}
