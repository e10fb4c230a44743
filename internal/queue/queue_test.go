package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/hub/internal/model"
)

func TestPushAndPop(t *testing.T) {
	q := New()

	assert.True(t, q.Empty())

	ok := q.Push("", "hello", model.Mode{})
	require.True(t, ok)
	assert.Equal(t, 1, q.Len())

	msg, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Text)
	assert.True(t, q.Empty())
}

func TestPushDedupesByLocalID(t *testing.T) {
	q := New()

	ok := q.Push("local-1", "first", model.Mode{})
	require.True(t, ok)

	ok = q.Push("local-1", "second", model.Mode{})
	assert.False(t, ok, "repeated localId must be a silent no-op")
	assert.Equal(t, 1, q.Len())
}

func TestPushWithoutLocalIDNeverDedupes(t *testing.T) {
	q := New()

	require.True(t, q.Push("", "same text", model.Mode{}))
	require.True(t, q.Push("", "same text", model.Mode{}))
	assert.Equal(t, 2, q.Len())
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New()
	q.Push("", "hello", model.Mode{})

	msg, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, 1, q.Len(), "Peek must not remove the head")
}

func TestPushIsolateAndClearDropsQueuedWork(t *testing.T) {
	q := New()
	q.Push("", "first", model.Mode{})
	q.Push("", "second", model.Mode{})

	q.PushIsolateAndClear("/new", model.Mode{})

	assert.Equal(t, 1, q.Len())
	msg, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "/new", msg.Text)
	assert.True(t, msg.Isolate)
}

func TestIsolateFlagSetForResetCommands(t *testing.T) {
	q := New()
	for _, cmd := range []string{"/new", "/clear", "/model"} {
		q.Push("", cmd, model.Mode{})
	}
	for range []int{0, 1, 2} {
		msg, ok := q.Pop()
		require.True(t, ok)
		assert.True(t, msg.Isolate, "%q must be marked isolate", msg.Text)
	}
}

func TestOrdinaryMessageNotIsolate(t *testing.T) {
	q := New()
	q.Push("", "normal message", model.Mode{})
	msg, _ := q.Pop()
	assert.False(t, msg.Isolate)
}

func TestRemoveOnlyRemovesMatchingHead(t *testing.T) {
	q := New()
	q.Push("", "/new", model.Mode{})
	q.Push("", "second", model.Mode{})

	head, _ := q.Peek()
	other := head
	other.Text = "not the head"
	assert.False(t, q.Remove(other))
	assert.Equal(t, 2, q.Len())

	assert.True(t, q.Remove(head))
	assert.Equal(t, 1, q.Len())
}

func TestPushFrontKeepsRestOfQueueIntact(t *testing.T) {
	q := New()
	q.Push("", "already queued", model.Mode{})

	q.PushFront("retry me", model.Mode{})

	assert.Equal(t, 2, q.Len(), "PushFront must not drop anything already queued")
	msg, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "retry me", msg.Text)
	msg, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "already queued", msg.Text)
}

func TestPushFrontFiresOnMessageCallback(t *testing.T) {
	q := New()
	var seen []string
	q.SetOnMessage(func(msg model.QueuedMessage) {
		seen = append(seen, msg.Text)
	})

	q.PushFront("retry me", model.Mode{})

	assert.Equal(t, []string{"retry me"}, seen)
}

func TestOnMessageCallbackFiresOnAdmission(t *testing.T) {
	q := New()
	var seen []string
	q.SetOnMessage(func(msg model.QueuedMessage) {
		seen = append(seen, msg.Text)
	})

	q.Push("", "one", model.Mode{})
	q.PushIsolateAndClear("/clear", model.Mode{})

	assert.Equal(t, []string{"one", "/clear"}, seen)
}

func TestPopOnEmptyQueueReturnsFalse(t *testing.T) {
	q := New()
	_, ok := q.Pop()
	assert.False(t, ok)
}
