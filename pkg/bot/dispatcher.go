package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linxiaolu/xiaolubot/pkg/bus"
	"github.com/linxiaolu/xiaolubot/pkg/config"
	"github.com/linxiaolu/xiaolubot/pkg/napcat"
	"github.com/linxiaolu/xiaolubot/pkg/session"
	"github.com/linxiaolu/xiaolubot/pkg/stream"
)

// Debug commands, matched against the full text content of a message.
const (
	cmdViewStreams = "/view_stream_msg"
	cmdViewInnerOS = "/view_stream_inner_os"
)

// Dispatcher consumes inbound envelopes, maintains the conversation
// registry and feeds each conversation's buffer. One buffer and one
// actor per conversation key, created on first contact.
type Dispatcher struct {
	bus    *bus.MessageBus
	cfg    *config.AgentConfig
	engine session.Engine
	vision Describer

	mu      sync.Mutex
	streams map[string]*stream.Stream
	actors  map[string]*session.Actor

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatcher(b *bus.MessageBus, cfg *config.AgentConfig, engine session.Engine, vision Describer) *Dispatcher {
	return &Dispatcher{
		bus:      b,
		cfg:      cfg,
		engine:   engine,
		vision:   vision,
		streams:  make(map[string]*stream.Stream),
		actors:   make(map[string]*session.Actor),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run consumes the inbound queue until Shutdown. Run in a goroutine.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for {
		select {
		case <-d.stopChan:
			return
		case env := <-d.bus.ConsumeInbound():
			d.Route(env)
		}
	}
}

// Route handles one inbound envelope: validate, render to a line,
// intercept debug commands, append to the conversation's buffer.
func (d *Dispatcher) Route(env bus.Envelope) {
	if env.ConversationType != "group" {
		log.Printf("暂不支持的会话类型: %s，仅支持群聊", env.ConversationType)
		return
	}
	if env.GroupID == "" {
		log.Printf("消息缺少群ID，跳过处理")
		return
	}

	text := d.renderSegments(context.Background(), env.Segments)

	switch text {
	case cmdViewStreams:
		d.dumpStreams(env)
		return
	case cmdViewInnerOS:
		d.dumpInnerOS(env)
		return
	}

	st, actor := d.ensure(env)
	st.Append(env.MessageID, d.formatLine(env, text), false)
	if d.cfg.KeepCount > 0 {
		if gone := st.Trim(d.cfg.KeepCount); gone > 0 {
			log.Printf("群%s消息流裁剪了%d条旧消息", env.GroupID, gone)
		}
	}
	actor.Start()
}

// RouteOutbound feeds the single outbound FIFO.
func (d *Dispatcher) RouteOutbound(p bus.Payload) {
	d.bus.PublishOutbound(p)
}

// Shutdown stops the inbound loop, then stops every actor, all bounded
// by ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopChan) })
	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	actors := make([]*session.Actor, 0, len(d.actors))
	for _, a := range d.actors {
		actors = append(actors, a)
	}
	d.mu.Unlock()

	var firstErr error
	for _, a := range actors {
		if err := a.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("停止群%s会话失败: %w", a.GroupID, err)
		}
	}
	return firstErr
}

// ensure returns the buffer and actor for the envelope's conversation,
// creating both on first contact.
func (d *Dispatcher) ensure(env bus.Envelope) (*stream.Stream, *session.Actor) {
	key := env.ConversationKey()

	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.streams[key]; ok {
		return st, d.actors[key]
	}

	st := stream.New(key)
	actor := session.NewActor(session.Config{
		Channel:          env.Channel,
		GroupID:          env.GroupID,
		Stream:           st,
		Engine:           d.engine,
		ReplyProbability: d.cfg.ReplyProbability,
		PollInterval:     time.Duration(d.cfg.PollIntervalMs) * time.Millisecond,
		DrainCount:       d.cfg.ContextWindow,
		MaxMemory:        d.cfg.MaxActionMemory,
		Alias:            d.cfg.AliasName,
	})
	d.streams[key] = st
	d.actors[key] = actor
	log.Printf("为会话%s创建新消息流 %s", key, st.ID)
	return st, actor
}

// Stream looks up the conversation buffer for a key.
func (d *Dispatcher) Stream(key string) (*stream.Stream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.streams[key]
	return st, ok
}

// Actor looks up the session actor for a key.
func (d *Dispatcher) Actor(key string) (*session.Actor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.actors[key]
	return a, ok
}

// renderSegments flattens an envelope body to plain text. Images go
// through the vision collaborator and come back as bracketed
// descriptions; unsupported segment types are logged and dropped.
func (d *Dispatcher) renderSegments(ctx context.Context, segments []bus.Segment) string {
	var out string
	for _, seg := range segments {
		switch seg.Type {
		case "text":
			out += seg.Text()
		case "image":
			out += d.describeImage(ctx, seg)
		default:
			log.Printf("暂不支持的消息段类型: %s", seg.Type)
		}
	}
	return out
}

func (d *Dispatcher) describeImage(ctx context.Context, seg bus.Segment) string {
	url, _ := seg.Data["url"].(string)
	subType := intField(seg.Data, "sub_type")
	if subType != 0 && subType != 1 {
		log.Printf("未知的图片子类型%d", subType)
		return ""
	}
	sticker := subType == 1
	label := "[发送了一个图片消息]"
	if sticker {
		label = "[发送了一个表情包消息]"
	}
	if d.vision == nil || url == "" {
		return label
	}
	desc, err := d.vision.Describe(ctx, url, sticker)
	if err != nil {
		log.Printf("图片描述失败: %v", err)
		return label
	}
	return label + "：" + desc
}

// formatLine renders one buffer line: time, sender, role, text.
func (d *Dispatcher) formatLine(env bus.Envelope, text string) string {
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := env.SenderName
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("%s [%s]-[%s]: %s", ts.Format("2006-01-02 15:04:05"), name, roleLabel(env.SenderRole), text)
}

func roleLabel(role string) string {
	switch role {
	case "owner":
		return "群主"
	case "admin":
		return "管理员"
	default:
		return "群成员"
	}
}

// dumpStreams sends every buffer's contents back to the requesting
// group. Debug sends skip the correlator, nobody awaits their result.
func (d *Dispatcher) dumpStreams(env bus.Envelope) {
	d.mu.Lock()
	streams := make([]*stream.Stream, 0, len(d.streams))
	for _, st := range d.streams {
		streams = append(streams, st)
	}
	d.mu.Unlock()

	if len(streams) == 0 {
		d.sendDebugText(env, "暂无消息流数据")
		return
	}
	for _, st := range streams {
		report := fmt.Sprintf("【会话: %s】消息流ID: %s | 创建时间: %s | 消息数: %d",
			st.GroupKey, st.ID, st.CreatedAt.Format("2006-01-02 15:04:05"), st.Len())
		for i, line := range st.Lines() {
			report += fmt.Sprintf("\n消息%d: %s", i+1, line)
		}
		d.sendDebugText(env, report)
	}
}

// dumpInnerOS sends every actor's action memory back to the requesting
// group.
func (d *Dispatcher) dumpInnerOS(env bus.Envelope) {
	d.mu.Lock()
	actors := make([]*session.Actor, 0, len(d.actors))
	for _, a := range d.actors {
		actors = append(actors, a)
	}
	d.mu.Unlock()

	if len(actors) == 0 {
		d.sendDebugText(env, "暂无会话数据")
		return
	}
	for _, a := range actors {
		report := fmt.Sprintf("当前机器人%s的内心os如下：", a.ID)
		memory := a.Memory()
		if len(memory) == 0 {
			report += "\n（暂无行为记忆）"
		}
		for _, m := range memory {
			report += "\n" + m
		}
		d.sendDebugText(env, report)
	}
}

func (d *Dispatcher) sendDebugText(env bus.Envelope, text string) {
	p := napcat.NewMessageBuilder(env.GroupID).
		Text(text).
		Payload(env.Channel, uuid.New().String())
	d.bus.PublishOutbound(p)
}

func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
