package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/linxiaolu/xiaolubot/pkg/decision"
	"github.com/linxiaolu/xiaolubot/pkg/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingEngine struct {
	mu      sync.Mutex
	calls   []string
	outcome decision.Outcome
	panics  bool
}

func (e *recordingEngine) RunCycle(ctx context.Context, cc decision.CycleContext, chat string, memory []string) decision.Outcome {
	e.mu.Lock()
	e.calls = append(e.calls, chat)
	panicking := e.panics
	e.panics = false
	e.mu.Unlock()
	if panicking {
		panic("engine exploded")
	}
	return e.outcome
}

func (e *recordingEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newTestActor(t *testing.T, engine Engine, probability float64, draw func() float64) (*Actor, *stream.Stream) {
	t.Helper()
	st := stream.New("napcat:777")
	a := NewActor(Config{
		Channel:          "napcat",
		GroupID:          "777",
		Stream:           st,
		Engine:           engine,
		ReplyProbability: probability,
		PollInterval:     5 * time.Millisecond,
		DrainCount:       15,
		MaxMemory:        10,
		Alias:            "小鹿",
	})
	a.draw = draw
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, a.Stop(ctx))
	})
	return a, st
}

func TestActorLifecycle(t *testing.T) {
	engine := &recordingEngine{}
	a, _ := newTestActor(t, engine, 0, func() float64 { return 1 })

	assert.Equal(t, StateIdle, a.State())
	a.Start()
	assert.Equal(t, StateRunning, a.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, StateStopped, a.State())

	// Stopping again stays stopped.
	require.NoError(t, a.Stop(ctx))
}

func TestActorStopBeforeStart(t *testing.T) {
	engine := &recordingEngine{}
	a, _ := newTestActor(t, engine, 0, func() float64 { return 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, StateStopped, a.State())
}

func TestActorWinningDrawRunsCycle(t *testing.T) {
	engine := &recordingEngine{outcome: decision.Outcome{Committed: true, Memory: "打了个招呼"}}
	a, st := newTestActor(t, engine, 0.3, func() float64 { return 0.1 })

	st.Append("m1", "10:00 [甲]-[群成员]: 小鹿在吗", false)
	a.Start()

	assert.Eventually(t, func() bool { return engine.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(a.Memory()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, a.Memory()[0], "打了个招呼")
	assert.False(t, st.Unseen())
}

func TestActorLosingDrawDiscards(t *testing.T) {
	engine := &recordingEngine{}
	a, st := newTestActor(t, engine, 0.3, func() float64 { return 0.9 })

	st.Append("m1", "10:00 [甲]-[群成员]: 随便聊聊", false)
	a.Start()

	assert.Eventually(t, func() bool { return !st.Unseen() }, time.Second, 5*time.Millisecond)
	assert.Zero(t, engine.callCount())
	assert.Empty(t, a.Memory())
}

func TestActorSelfAppendsSentText(t *testing.T) {
	engine := &recordingEngine{outcome: decision.Outcome{Committed: true, Memory: "回了个你好", Echo: "tok-1", SentText: "你好呀"}}
	a, st := newTestActor(t, engine, 1, func() float64 { return 0 })

	st.Append("m1", "10:00 [甲]-[群成员]: 你好", false)
	a.Start()

	assert.Eventually(t, func() bool { return st.Len() == 2 }, time.Second, 5*time.Millisecond)
	lines := st.Lines()
	assert.Contains(t, lines[1], "[小鹿]-[群成员]: 你好呀")
	// Self appends never re-arm the drain flag.
	assert.Eventually(t, func() bool { return !st.Unseen() }, time.Second, 5*time.Millisecond)
}

func TestActorUncommittedOutcomeLeavesNoTrace(t *testing.T) {
	engine := &recordingEngine{outcome: decision.Outcome{Committed: false, Memory: "发送失败了"}}
	a, st := newTestActor(t, engine, 1, func() float64 { return 0 })

	st.Append("m1", "10:00 [甲]-[群成员]: 你好", false)
	a.Start()

	assert.Eventually(t, func() bool { return engine.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.Memory())
	assert.Equal(t, 1, st.Len())
}

func TestActorRecoversFromPanic(t *testing.T) {
	engine := &recordingEngine{outcome: decision.Outcome{Committed: true, Memory: "第二次成功"}, panics: true}
	a, st := newTestActor(t, engine, 1, func() float64 { return 0 })

	st.Append("m1", "10:00 [甲]-[群成员]: 一", false)
	a.Start()
	assert.Eventually(t, func() bool { return engine.callCount() >= 1 }, time.Second, 5*time.Millisecond)

	st.Append("m2", "10:01 [甲]-[群成员]: 二", false)
	assert.Eventually(t, func() bool { return engine.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(a.Memory()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecentMemoryBounded(t *testing.T) {
	engine := &recordingEngine{}
	a, _ := newTestActor(t, engine, 0, func() float64 { return 1 })

	for i := 0; i < 15; i++ {
		a.Record("记忆" + string(rune('a'+i)))
	}
	assert.Len(t, a.Memory(), 15)
	recent := a.RecentMemory()
	require.Len(t, recent, 10)
	assert.Contains(t, recent[9], "记忆"+string(rune('a'+14)))
}
