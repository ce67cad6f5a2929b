package logger

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Record is a single structured log entry passed between an export task and
// whoever is supervising it.
type Record struct {
	Time    time.Time
	Level   LogLevel
	Message string
	Fields  map[string]interface{}
}

// RecordCore is a zap core that forwards every enabled entry to a channel.
// Sends give up once done is closed so a task never blocks on a supervisor
// that stopped listening.
type RecordCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
	sink   chan<- Record
	done   <-chan struct{}
}

// NewRecordCore creates a core emitting records at or above level.
func NewRecordCore(level LogLevel, sink chan<- Record, done <-chan struct{}) *RecordCore {
	return &RecordCore{
		LevelEnabler: level.zapLevel(),
		sink:         sink,
		done:         done,
	}
}

// NewRecordLogger is a Logger whose output goes to sink.
func NewRecordLogger(level LogLevel, sink chan<- Record, done <-chan struct{}) *Logger {
	return New(NewRecordCore(level, sink, done))
}

func (c *RecordCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *RecordCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *RecordCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	rec := Record{
		Time:    ent.Time,
		Level:   fromZapLevel(ent.Level),
		Message: ent.Message,
	}
	if len(enc.Fields) > 0 {
		rec.Fields = enc.Fields
	}
	select {
	case c.sink <- rec:
	case <-c.done:
	}
	return nil
}

func (c *RecordCore) Sync() error { return nil }

// ParseRecord decodes one JSON log line as written by a logger configured
// with JSON output. Anything that does not decode into a message becomes an
// error-level record carrying the raw line.
func ParseRecord(line string) Record {
	line = strings.TrimSpace(line)
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return malformedRecord(line)
	}
	msg, ok := raw["msg"].(string)
	if !ok {
		return malformedRecord(line)
	}

	rec := Record{Time: time.Now(), Level: Info, Message: msg}
	if s, ok := raw["level"].(string); ok {
		if level, err := ParseLogLevel(s); err == nil {
			rec.Level = level
		}
	}
	for _, k := range []string{"msg", "level", "ts", "caller"} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		rec.Fields = raw
	}
	return rec
}

func malformedRecord(line string) Record {
	return Record{Time: time.Now(), Level: Error, Message: line}
}
