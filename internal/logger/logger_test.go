package logger

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", Debug, false},
		{"DEBUG", Debug, false},
		{"info", Info, false},
		{"warn", Warn, false},
		{"WARNING", Warn, false},
		{"error", Error, false},
		{"loud", Info, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerbosityLevel(t *testing.T) {
	assert.Equal(t, Error, VerbosityLevel(0))
	assert.Equal(t, Info, VerbosityLevel(1))
	assert.Equal(t, Debug, VerbosityLevel(2))
	assert.Equal(t, Debug, VerbosityLevel(5))
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Config{LogLevel: Warn, Output: &buf})
	require.NoError(t, err)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)
	l.Error("shown %d", 3)
	require.NoError(t, l.Close())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "shown 3")
}

func TestNewLogger_TimestampLocation(t *testing.T) {
	var utc bytes.Buffer
	l, err := NewLogger(Config{LogLevel: Info, Output: &utc})
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Close())
	firstField := strings.Fields(utc.String())[1]
	assert.True(t, strings.HasSuffix(firstField, "Z"), "UTC timestamps end in Z: %q", utc.String())

	var local bytes.Buffer
	loc := time.FixedZone("test", -6*3600)
	l, err = NewLogger(Config{LogLevel: Info, Output: &local, Location: loc})
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Close())
	firstField = strings.Fields(local.String())[1]
	assert.False(t, strings.HasSuffix(firstField, "Z"))
}

func TestNewLogger_File(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "spool.log")
	l, err := NewLogger(Config{LogLevel: Info, LogFile: path, MaxSize: 1, Output: &buf})
	require.NoError(t, err)
	l.Info("to file")
	require.NoError(t, l.Close())
	assert.FileExists(t, path)
}

func TestRecordLogger(t *testing.T) {
	sink := make(chan Record, 4)
	done := make(chan struct{})
	l := NewRecordLogger(Info, sink, done).With("file", "a.pcap")

	l.Debug("dropped")
	l.Warn("read error: %s", "boom")

	require.Len(t, sink, 1)
	rec := <-sink
	assert.Equal(t, Warn, rec.Level)
	assert.Equal(t, "read error: boom", rec.Message)
	assert.Equal(t, "a.pcap", rec.Fields["file"])
}

func TestRecordLogger_DoesNotBlockAfterDone(t *testing.T) {
	sink := make(chan Record)
	done := make(chan struct{})
	close(done)
	l := NewRecordLogger(Debug, sink, done)

	finished := make(chan struct{})
	go func() {
		l.Info("nobody listening")
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("logging blocked on a closed supervisor")
	}
}

func TestParseRecord(t *testing.T) {
	rec := ParseRecord(`{"level":"ERROR","ts":"2024-01-01 00:00:00Z","msg":"pcap-error","file":"x.pcap"}`)
	assert.Equal(t, Error, rec.Level)
	assert.Equal(t, "pcap-error", rec.Message)
	assert.Equal(t, "x.pcap", rec.Fields["file"])

	rec = ParseRecord(`{"level":"nonsense","msg":"processing"}`)
	assert.Equal(t, Info, rec.Level)
	assert.Nil(t, rec.Fields)

	rec = ParseRecord("panic: something broke")
	assert.Equal(t, Error, rec.Level)
	assert.Equal(t, "panic: something broke", rec.Message)

	rec = ParseRecord(`{"level":"INFO"}`)
	assert.Equal(t, Error, rec.Level)
}

func TestLogger_LogRecord(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Config{LogLevel: Info, Output: &buf, JSON: true})
	require.NoError(t, err)

	l.Log(Record{Level: Warn, Message: "forwarded", Fields: map[string]interface{}{"bytes": 10}})
	l.Log(Record{Level: Debug, Message: "below threshold"})
	require.NoError(t, l.Close())

	rec := ParseRecord(strings.Split(strings.TrimSpace(buf.String()), "\n")[0])
	assert.Equal(t, Warn, rec.Level)
	assert.Equal(t, "forwarded", rec.Message)
	assert.EqualValues(t, 10, rec.Fields["bytes"])
	assert.NotContains(t, buf.String(), "below threshold")
}
