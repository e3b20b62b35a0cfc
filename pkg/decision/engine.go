package decision

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linxiaolu/xiaolubot/pkg/bus"
	"github.com/linxiaolu/xiaolubot/pkg/comic"
	"github.com/linxiaolu/xiaolubot/pkg/napcat"
	"github.com/linxiaolu/xiaolubot/pkg/providers"
)

// Sender sends one correlated payload and waits for the matching send
// result. The correlator satisfies it; tests substitute a fake.
type Sender interface {
	Send(token string, p bus.Payload)
	AwaitMatch(token string, timeout time.Duration) (bus.SendResult, error)
}

// CycleContext carries the conversation identity of one decision cycle.
type CycleContext struct {
	Channel string
	GroupID string
}

// Outcome reports what one cycle did. Committed means the cycle's logic
// line should enter action memory: either nothing needed sending, or
// the send was confirmed ok. SentText is the plain-text portion of what
// went out, for the caller to fold back into the conversation buffer.
type Outcome struct {
	Committed bool
	Memory    string
	Echo      string
	SentText  string
}

// Engine turns a conversation snapshot into a decision and carries the
// decision out against the messaging layer.
type Engine struct {
	Provider     providers.LLMProvider
	Model        string
	Persona      string
	Vocab        Vocabulary
	Comic        comic.Client
	Sender       Sender
	AwaitTimeout time.Duration
}

func NewEngine(provider providers.LLMProvider, model, persona string, vocab Vocabulary, comicClient comic.Client, sender Sender, awaitTimeout time.Duration) *Engine {
	if model == "" && provider != nil {
		model = provider.GetDefaultModel()
	}
	if awaitTimeout <= 0 {
		awaitTimeout = 10 * time.Second
	}
	return &Engine{
		Provider:     provider,
		Model:        model,
		Persona:      persona,
		Vocab:        vocab,
		Comic:        comicClient,
		Sender:       sender,
		AwaitTimeout: awaitTimeout,
	}
}

// Generate asks the model for one decision. Any provider failure is
// logged and collapses to empty text, which the parser turns into the
// silent default.
func (e *Engine) Generate(ctx context.Context, chat string, memory []string) string {
	messages := []providers.Message{
		providers.SystemMessage(e.Persona),
		providers.UserMessage(BuildPrompt(memory, chat, e.Vocab)),
	}
	text, err := e.Provider.Chat(ctx, messages, e.Model)
	if err != nil {
		log.Printf("决策生成失败: %v", err)
		return ""
	}
	return text
}

// Execute carries out a parsed decision. All actions of the cycle
// compose into a single outbound message; a failing action is skipped
// without aborting its siblings. An empty composition sends nothing and
// still commits.
func (e *Engine) Execute(ctx context.Context, d Decision, cc CycleContext) Outcome {
	b := napcat.NewMessageBuilder(cc.GroupID)
	var sent strings.Builder

	for _, act := range []Action{d.Main, d.Aux[0], d.Aux[1]} {
		e.applyAction(ctx, act, b, &sent)
	}

	out := Outcome{Memory: d.Logic, SentText: sent.String()}
	if b.Empty() {
		out.Committed = true
		out.SentText = ""
		return out
	}

	token := uuid.New().String()
	e.Sender.Send(token, b.Payload(cc.Channel, token))

	res, err := e.Sender.AwaitMatch(token, e.AwaitTimeout)
	if err != nil {
		log.Printf("群%s发送结果等待失败: %v", cc.GroupID, err)
		return out
	}
	if !res.OK() {
		log.Printf("群%s发送被拒绝: %s %s", cc.GroupID, res.Status, res.Message)
		return out
	}
	out.Committed = true
	out.Echo = token
	return out
}

// RunCycle is generate, parse, execute in one call.
func (e *Engine) RunCycle(ctx context.Context, cc CycleContext, chat string, memory []string) Outcome {
	raw := e.Generate(ctx, chat, memory)
	return e.Execute(ctx, Parse(raw), cc)
}

func (e *Engine) applyAction(ctx context.Context, act Action, b *napcat.MessageBuilder, sent *strings.Builder) {
	params := act.Params
	if params == NoneField {
		params = ""
	}

	switch act.Tag {
	case ActionNone, ActionSilent:
		return
	case ActionReply:
		if params == "" {
			log.Printf("REPLY动作缺少文本，跳过")
			return
		}
		b.Text(params)
		sent.WriteString(params)
	case ActionAt:
		if params == "" {
			log.Printf("AT动作缺少目标，跳过")
			return
		}
		b.At(params)
	case ActionReplyTo:
		if params == "" {
			log.Printf("引用回复缺少消息id，跳过")
			return
		}
		b.ReplyTo(params)
	case ActionSearch:
		if e.Comic == nil {
			log.Printf("漫画搜索未启用，跳过SEARCH")
			return
		}
		if params == "" {
			log.Printf("SEARCH动作缺少关键词，跳过")
			return
		}
		listing, err := e.Comic.Search(ctx, params)
		if err != nil {
			log.Printf("漫画搜索失败: %v", err)
			return
		}
		b.Text(listing)
		sent.WriteString(listing)
	case ActionDownload:
		if e.Comic == nil {
			log.Printf("漫画下载未启用，跳过DOWNLOAD")
			return
		}
		if params == "" {
			log.Printf("DOWNLOAD动作缺少车号，跳过")
			return
		}
		path, err := e.Comic.Download(ctx, params)
		if err != nil {
			log.Printf("漫画下载失败: %v", err)
			return
		}
		b.File(filepath.Base(path), path)
	default:
		log.Printf("未知动作标签，跳过: %s", act.Tag)
	}
}
