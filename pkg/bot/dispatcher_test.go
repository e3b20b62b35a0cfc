package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/linxiaolu/xiaolubot/pkg/bus"
	"github.com/linxiaolu/xiaolubot/pkg/config"
	"github.com/linxiaolu/xiaolubot/pkg/decision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type idleEngine struct{}

func (idleEngine) RunCycle(ctx context.Context, cc decision.CycleContext, chat string, memory []string) decision.Outcome {
	return decision.Outcome{}
}

type fixedDescriber struct {
	desc string
	err  error
}

func (f fixedDescriber) Describe(ctx context.Context, imageURL string, sticker bool) (string, error) {
	return f.desc, f.err
}

func testDispatcher(t *testing.T, vision Describer) (*Dispatcher, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus()
	cfg := config.DefaultConfig().Agent
	// Keep the actors dormant so routing effects stay observable.
	cfg.ReplyProbability = 0
	cfg.PollIntervalMs = 60000
	d := NewDispatcher(b, &cfg, idleEngine{}, vision)
	go d.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, d.Shutdown(ctx))
	})
	return d, b
}

func textEnvelope(groupID, messageID, text string) bus.Envelope {
	return bus.Envelope{
		Channel:          "napcat",
		ConversationType: "group",
		GroupID:          groupID,
		SenderID:         "10001",
		SenderName:       "甲",
		SenderRole:       "member",
		Timestamp:        time.Date(2026, 1, 2, 10, 30, 0, 0, time.Local),
		MessageID:        messageID,
		Segments:         []bus.Segment{bus.TextSegment(text)},
	}
}

func TestRouteCreatesBufferOnFirstContact(t *testing.T) {
	d, b := testDispatcher(t, nil)

	b.PublishInbound(textEnvelope("G1", "1", "hello"))

	require.Eventually(t, func() bool {
		st, ok := d.Stream("napcat:G1")
		return ok && st.Len() == 1
	}, time.Second, 5*time.Millisecond)

	st, _ := d.Stream("napcat:G1")
	lines := st.Lines()
	assert.True(t, strings.HasSuffix(lines[0], "hello"))
	assert.Contains(t, lines[0], "[甲]-[群成员]")
	assert.Contains(t, lines[0], "2026-01-02 10:30:00")
	assert.True(t, st.Unseen())

	actor, ok := d.Actor("napcat:G1")
	require.True(t, ok)
	assert.NotEqual(t, "", actor.ID.String())
}

func TestRouteReusesExistingBuffer(t *testing.T) {
	d, b := testDispatcher(t, nil)

	b.PublishInbound(textEnvelope("G1", "1", "one"))
	b.PublishInbound(textEnvelope("G1", "2", "two"))

	require.Eventually(t, func() bool {
		st, ok := d.Stream("napcat:G1")
		return ok && st.Len() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRouteRejectsInvalidEnvelopes(t *testing.T) {
	d, _ := testDispatcher(t, nil)

	private := textEnvelope("G1", "1", "hi")
	private.ConversationType = "private"
	d.Route(private)

	noGroup := textEnvelope("", "2", "hi")
	d.Route(noGroup)

	_, ok := d.Stream("napcat:G1")
	assert.False(t, ok)
	_, ok = d.Stream("napcat:")
	assert.False(t, ok)
}

func TestRouteDescribesImages(t *testing.T) {
	d, _ := testDispatcher(t, fixedDescriber{desc: "一只趴在键盘上的猫"})

	env := textEnvelope("G1", "1", "看这个")
	env.Segments = append(env.Segments, bus.Segment{
		Type: "image",
		Data: map[string]interface{}{"url": "http://img/cat.jpg", "sub_type": float64(0)},
	})
	d.Route(env)

	st, ok := d.Stream("napcat:G1")
	require.True(t, ok)
	assert.Contains(t, st.Lines()[0], "看这个[发送了一个图片消息]：一只趴在键盘上的猫")
}

func TestRouteStickerUsesStickerLabel(t *testing.T) {
	d, _ := testDispatcher(t, fixedDescriber{desc: "经典问号脸"})

	env := textEnvelope("G1", "1", "")
	env.Segments = []bus.Segment{{
		Type: "image",
		Data: map[string]interface{}{"url": "http://img/meme.jpg", "sub_type": float64(1)},
	}}
	d.Route(env)

	st, _ := d.Stream("napcat:G1")
	assert.Contains(t, st.Lines()[0], "[发送了一个表情包消息]：经典问号脸")
}

func TestRouteVisionFailureFallsBackToLabel(t *testing.T) {
	d, _ := testDispatcher(t, fixedDescriber{err: errors.New("vision down")})

	env := textEnvelope("G1", "1", "")
	env.Segments = []bus.Segment{{
		Type: "image",
		Data: map[string]interface{}{"url": "http://img/cat.jpg", "sub_type": float64(0)},
	}}
	d.Route(env)

	st, _ := d.Stream("napcat:G1")
	assert.True(t, strings.HasSuffix(st.Lines()[0], "[发送了一个图片消息]"))
}

func TestRouteTrimsWhenKeepCountSet(t *testing.T) {
	d, _ := testDispatcher(t, nil)
	d.cfg.KeepCount = 2

	d.Route(textEnvelope("G1", "1", "one"))
	d.Route(textEnvelope("G1", "2", "two"))
	d.Route(textEnvelope("G1", "3", "three"))

	st, _ := d.Stream("napcat:G1")
	require.Equal(t, 2, st.Len())
	lines := st.Lines()
	assert.True(t, strings.HasSuffix(lines[0], "two"))
	assert.True(t, strings.HasSuffix(lines[1], "three"))
}

func TestDebugCommandsBypassBuffer(t *testing.T) {
	d, b := testDispatcher(t, nil)

	d.Route(textEnvelope("G1", "1", cmdViewStreams))

	_, ok := d.Stream("napcat:G1")
	assert.False(t, ok, "commands never enter the buffer")

	select {
	case p := <-b.ConsumeOutbound():
		assert.Equal(t, "napcat", p.Channel)
		assert.Equal(t, "G1", p.GroupID)
		require.Len(t, p.Segments, 1)
		assert.Equal(t, "暂无消息流数据", p.Segments[0].Text())
	case <-time.After(time.Second):
		t.Fatal("expected a debug report payload")
	}
}

func TestDebugInnerOSReportsMemory(t *testing.T) {
	d, b := testDispatcher(t, nil)

	d.Route(textEnvelope("G1", "1", "hello"))
	actor, ok := d.Actor("napcat:G1")
	require.True(t, ok)
	actor.Record("回忆一条")

	d.Route(textEnvelope("G1", "2", cmdViewInnerOS))

	select {
	case p := <-b.ConsumeOutbound():
		require.Len(t, p.Segments, 1)
		assert.Contains(t, p.Segments[0].Text(), "内心os")
		assert.Contains(t, p.Segments[0].Text(), "回忆一条")
	case <-time.After(time.Second):
		t.Fatal("expected a memory report payload")
	}

	st, _ := d.Stream("napcat:G1")
	assert.Equal(t, 1, st.Len(), "command itself never appended")
}
