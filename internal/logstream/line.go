// Package logstream captures supervised process output and fans it out to observers.
package logstream

import (
	"strings"
	"time"
)

// Level 日志级别
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Line is one line of process output or one supervisor event.
// Seq is assigned by RingBuffer.Append; lines that never enter a buffer keep Seq 0.
type Line struct {
	Seq     uint64    `json:"seq,omitempty"`
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// NewLine stamps msg with the current time and trims trailing whitespace.
func NewLine(level Level, msg string) Line {
	return Line{Time: time.Now(), Level: level, Message: strings.TrimRight(msg, " \t\r\n")}
}

// Sink receives every line the supervisor produces for a bot.
type Sink interface {
	Publish(botID string, line Line)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(string, Line) {}

// Tee fans out to every non-nil sink, in order.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type tee []Sink

func (t tee) Publish(botID string, line Line) {
	for _, s := range t {
		s.Publish(botID, line)
	}
}
