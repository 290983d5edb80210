package supervisor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(id int) Event {
	return Event{
		ProcessID: "test",
		Type:      EventOutput,
		Data:      fmt.Sprintf("line-%d", id),
		Timestamp: time.Now().UTC(),
	}
}

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer(10)
	assert.Empty(t, rb.ReadAll())
	assert.Equal(t, 0, rb.Len())
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 5; i++ {
		rb.Write(makeEvent(i))
	}

	events := rb.ReadAll()
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("line-%d", i), e.Data)
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 0; i < 8; i++ {
		rb.Write(makeEvent(i))
	}

	events := rb.ReadAll()
	require.Len(t, events, 5)
	assert.Equal(t, 5, rb.Len())

	// Oldest three are dropped.
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("line-%d", i+3), e.Data)
	}
}

func TestRingBuffer_ExactCapacity(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 3; i++ {
		rb.Write(makeEvent(i))
	}

	events := rb.ReadAll()
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("line-%d", i), e.Data)
	}
}

func TestRingBuffer_ZeroCapacityClamped(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Write(makeEvent(1))
	rb.Write(makeEvent(2))

	events := rb.ReadAll()
	require.Len(t, events, 1)
	assert.Equal(t, "line-2", events[0].Data)
}

func TestRingBuffer_Reset(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Write(makeEvent(i))
	}
	rb.Reset()

	assert.Empty(t, rb.ReadAll())
	assert.Equal(t, 0, rb.Len())

	rb.Write(makeEvent(9))
	events := rb.ReadAll()
	require.Len(t, events, 1)
	assert.Equal(t, "line-9", events[0].Data)
}
