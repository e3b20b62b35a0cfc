package decision

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolSpec describes one action tag to the model: when to pick it and
// what its execution parameter means.
type ToolSpec struct {
	Tag         string `yaml:"tag"`
	Description string `yaml:"description"`
	Trigger     string `yaml:"trigger"`
	Params      string `yaml:"params"`
}

// Vocabulary is the full action list rendered into the decision prompt.
type Vocabulary struct {
	Tools []ToolSpec `yaml:"tools"`
}

// DefaultVocabulary covers the built-in action set. A vocabulary file
// can override it to rephrase triggers or drop tools.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{Tools: []ToolSpec{
		{
			Tag:         "SILENT",
			Description: "保持沉默，不发送任何消息",
			Trigger:     "聊天内容与你无关，或没有值得插话的点",
			Params:      "无",
		},
		{
			Tag:         "REPLY",
			Description: "在群里发送一条普通文本消息",
			Trigger:     "有人向你提问，或话题你有兴趣参与",
			Params:      "要发送的文本内容",
		},
		{
			Tag:         "AT",
			Description: "在消息中@某个群成员",
			Trigger:     "需要明确提醒或点名某个人时，配合REPLY使用",
			Params:      "要@的成员QQ号",
		},
		{
			Tag:         "REPLY_TO_MESSAGE",
			Description: "引用回复某条具体消息",
			Trigger:     "群里消息较多，需要指明你在回应哪一条时，配合REPLY使用",
			Params:      "要引用的消息id",
		},
		{
			Tag:         "SEARCH",
			Description: "按关键词搜索漫画，并把结果列表发到群里",
			Trigger:     "有人让你找漫画或报出作品名求车号",
			Params:      "搜索关键词",
		},
		{
			Tag:         "DOWNLOAD",
			Description: "按车号下载漫画PDF并发到群里",
			Trigger:     "有人报出明确的车号让你下载",
			Params:      "漫画车号",
		},
	}}
}

// LoadVocabulary reads a vocabulary YAML file. An empty path or a
// missing file falls back to the default set; a file that exists but
// cannot be parsed is an error, silently swallowing it would change the
// bot's behavior without a trace.
func LoadVocabulary(path string) (Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultVocabulary(), nil
		}
		return Vocabulary{}, fmt.Errorf("读取动作词表失败: %w", err)
	}
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("解析动作词表失败: %w", err)
	}
	if len(v.Tools) == 0 {
		return DefaultVocabulary(), nil
	}
	return v, nil
}

// Render formats the vocabulary for prompt interpolation.
func (v Vocabulary) Render() string {
	var b strings.Builder
	for _, t := range v.Tools {
		fmt.Fprintf(&b, "- 【%s】%s。触发条件：%s。执行参数：%s\n", t.Tag, t.Description, t.Trigger, t.Params)
	}
	return strings.TrimRight(b.String(), "\n")
}
