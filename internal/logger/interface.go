package logger

// Logger is the logging surface handed to components. With returns a child
// logger carrying an extra string field on every event.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err error) *LogEvent
	With(key, value string) Logger
}
