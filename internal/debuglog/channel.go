// Package debuglog is the parser's debug channel: timestamped lines that are
// only written while debug mode is on.
package debuglog

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Name prefixes every line written to the channel.
const Name = "HtmlLayoutParser"

// Channel is a switchable debug logger.
type Channel struct {
	level  zap.AtomicLevel
	logger *zap.Logger
}

// New creates a disabled channel writing to w.
func New(w io.Writer) *Channel {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:          "ts",
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       encodeTime,
		EncodeName:       encodeName,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level)

	return &Channel{
		level:  level,
		logger: zap.New(core).Named(Name),
	}
}

// Nop returns a channel that never writes.
func Nop() *Channel {
	return &Channel{
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		logger: zap.NewNop(),
	}
}

// SetEnabled turns the channel on or off.
func (c *Channel) SetEnabled(enabled bool) {
	if enabled {
		c.level.SetLevel(zapcore.DebugLevel)
		return
	}
	c.level.SetLevel(zapcore.InfoLevel)
}

// Enable turns the channel on and returns a func that restores its previous
// state.
func (c *Channel) Enable() (restore func()) {
	if c.Enabled() {
		return func() {}
	}
	c.SetEnabled(true)
	return func() { c.SetEnabled(false) }
}

// Enabled reports whether the channel writes debug lines.
func (c *Channel) Enabled() bool {
	return c.level.Enabled(zapcore.DebugLevel)
}

// Logger returns the channel logger. Messages must be logged at debug level.
func (c *Channel) Logger() *zap.Logger {
	return c.logger
}

// Printf writes a formatted line.
func (c *Channel) Printf(format string, args ...any) {
	if !c.Enabled() {
		return
	}
	c.logger.Debug(fmt.Sprintf(format, args...))
}

func encodeTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + t.Format("2006-01-02 15:04:05.000") + "]")
}

func encodeName(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + name + "]")
}

// FormatBytes renders a byte count as B, KB or MB.
func FormatBytes(n uint64) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.2fMB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.2fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// FormatDuration renders d in milliseconds, or seconds from one second up.
func FormatDuration(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}
	return fmt.Sprintf("%.2fms", ms)
}
