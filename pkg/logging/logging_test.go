package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingStoreBoundsCapacity(t *testing.T) {
	r := NewRingStore(3)
	for i := 0; i < 5; i++ {
		r.Append(Record{Timestamp: time.Now(), Level: LevelInfo, Message: "x"})
	}
	got := r.Since(time.Time{})
	assert.Len(t, got, 3)
}

func TestRingStoreSinceFiltersByTimestamp(t *testing.T) {
	r := NewRingStore(10)
	cut := time.Now()
	r.Append(Record{Timestamp: cut.Add(-time.Minute), Message: "old"})
	r.Append(Record{Timestamp: cut.Add(time.Minute), Message: "new"})

	got := r.Since(cut)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Message)
}

func TestRingStoreClear(t *testing.T) {
	r := NewRingStore(10)
	r.Append(Record{Timestamp: time.Now()})
	r.Clear()
	assert.Empty(t, r.Since(time.Time{}))
}

func TestSinkEmitBuffersAndFormats(t *testing.T) {
	s, err := NewDevelopment(10)
	require.NoError(t, err)

	s.Infof("test", "hello %s", "world")
	logs := s.Logs(time.Time{})
	require.Len(t, logs, 1)
	assert.Equal(t, "hello world", logs[0].Message)
	assert.Equal(t, LevelInfo, logs[0].Level)
	assert.Empty(t, logs[0].ConnID)
}

func TestConnLoggerAttachesCorrelationID(t *testing.T) {
	s, err := NewDevelopment(10)
	require.NoError(t, err)

	id := NewConnID()
	s.Conn(id).Warnf("tlsterm", "handshake failed")

	logs := s.Logs(time.Time{})
	require.Len(t, logs, 1)
	assert.Equal(t, id, logs[0].ConnID)
	assert.Equal(t, LevelWarn, logs[0].Level)
}
