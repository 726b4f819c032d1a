package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger records log calls for testify assertions. All leveled calls are
// recorded under the method name "Log" with the level, message and
// key-value slice as arguments:
//
//	l := logger.NewMockLogger()
//	l.On("Log", logger.WarnLevel, "controller alarm", mock.Anything).Once()
//	l.AllowOthers()
//
// Children created by With log into the same mock. Fatal never exits.
type MockLogger struct {
	mock.Mock

	level Level
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{level: DebugLevel}
}

// AllowOthers accepts any log call not matched by an earlier expectation.
func (m *MockLogger) AllowOthers() {
	m.On("Log", mock.Anything, mock.Anything, mock.Anything).Maybe()
}

func (m *MockLogger) log(level Level, msg string, kv []any) {
	if level < m.level {
		return
	}
	m.MethodCalled("Log", level, msg, kv)
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.log(DebugLevel, msg, keysAndValues) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.log(InfoLevel, msg, keysAndValues) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.log(WarnLevel, msg, keysAndValues) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.log(ErrorLevel, msg, keysAndValues) }
func (m *MockLogger) Fatal(msg string, keysAndValues ...any) { m.log(FatalLevel, msg, keysAndValues) }

func (m *MockLogger) SetLevel(level Level) { m.level = level }
func (m *MockLogger) Level() Level         { return m.level }

func (m *MockLogger) With(...any) Logger { return m }

// KeyValue returns the value logged for key in a recorded key-value slice.
func KeyValue(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i] == key {
			return kv[i+1], true
		}
	}
	return nil, false
}
