package repositories

import "github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/logging"

// Logger is the minimal logging contract required by repository
// implementations. It is a subset of logging.Logger so that any concrete
// logger satisfying the platform-wide interface can be passed directly.
type Logger interface {
	Debug(msg string, fields ...logging.Field)
	Info(msg string, fields ...logging.Field)
	Warn(msg string, fields ...logging.Field)
	Error(msg string, fields ...logging.Field)
}
