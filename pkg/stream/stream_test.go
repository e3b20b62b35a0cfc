package stream

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDrainOrder(t *testing.T) {
	s := New("napcat:1001")
	s.Append("1", "10:00 [小吕]-[群成员]: 早", false)
	s.Append("2", "10:01 [小王]-[群成员]: 早啊", false)
	s.Append("3", "10:02 [小吕]-[群成员]: 吃了吗", false)

	got, ok := s.Drain(10)
	require.True(t, ok)
	assert.Equal(t, []string{
		"10:00 [小吕]-[群成员]: 早",
		"10:01 [小王]-[群成员]: 早啊",
		"10:02 [小吕]-[群成员]: 吃了吗",
	}, strings.Split(got, "\n"))
}

func TestDrainConsumesFlag(t *testing.T) {
	s := New("napcat:1001")
	s.Append("1", "hello", false)

	_, ok := s.Drain(10)
	require.True(t, ok)

	// Second drain without an intervening append is a no-op.
	got, ok := s.Drain(10)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestDrainLimitsToLastN(t *testing.T) {
	s := New("napcat:1001")
	for i := 0; i < 20; i++ {
		s.Append(fmt.Sprintf("%d", i), fmt.Sprintf("msg-%d", i), false)
	}

	got, ok := s.Drain(5)
	require.True(t, ok)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "msg-15", lines[0])
	assert.Equal(t, "msg-19", lines[4])
}

func TestDrainCountCoercion(t *testing.T) {
	s := New("napcat:1001")
	for i := 0; i < 30; i++ {
		s.Append(fmt.Sprintf("%d", i), fmt.Sprintf("msg-%d", i), false)
	}

	got, ok := s.Drain(0)
	require.True(t, ok)
	assert.Len(t, strings.Split(got, "\n"), DefaultDrainCount)
}

func TestDrainEmptyButFlagged(t *testing.T) {
	s := New("napcat:1001")
	s.Append("1", "ghost", false)
	s.Trim(0)

	got, ok := s.Drain(10)
	require.True(t, ok)
	assert.Equal(t, NoHistory, got)
}

func TestSelfAppendDoesNotFlag(t *testing.T) {
	s := New("napcat:1001")
	s.Append("self:abc", "10:05 [小鹿]: 哈哈", true)
	assert.False(t, s.Unseen())

	_, ok := s.Drain(10)
	assert.False(t, ok)

	// But the self line is visible once something external arrives.
	s.Append("4", "10:06 [小吕]-[群成员]: ?", false)
	got, ok := s.Drain(10)
	require.True(t, ok)
	assert.Contains(t, got, "[小鹿]: 哈哈")
}

func TestAppendOverwritesSameID(t *testing.T) {
	s := New("napcat:1001")
	s.Append("1", "first", false)
	s.Append("2", "second", false)
	s.Append("1", "revised", false)

	require.Equal(t, 2, s.Len())
	got, _ := s.Drain(10)
	lines := strings.Split(got, "\n")
	assert.Equal(t, "revised", lines[0])
	assert.Equal(t, "second", lines[1])
}

func TestAppendStripsLineBreaks(t *testing.T) {
	s := New("napcat:1001")
	s.Append("1", "line one\nline two\r\nline three", false)

	got, _ := s.Drain(10)
	assert.Len(t, strings.Split(got, "\n"), 1)
}

func TestTrim(t *testing.T) {
	s := New("napcat:1001")
	for i := 0; i < 10; i++ {
		s.Append(fmt.Sprintf("%d", i), fmt.Sprintf("msg-%d", i), false)
	}

	removed := s.Trim(3)
	assert.Equal(t, 7, removed)
	assert.Equal(t, []string{"msg-7", "msg-8", "msg-9"}, s.Lines())

	// Trimming a buffer already within bounds removes nothing.
	assert.Equal(t, 0, s.Trim(3))
	assert.Equal(t, 3, s.Len())
}
