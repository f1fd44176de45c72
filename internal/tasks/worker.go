package tasks

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/config"
)

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tasks: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker creates a worker on taskQueue with every workflow and activity
// registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w, acts)
	return w
}

// Logger adapts zap to the Temporal SDK logger.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger wraps l.
func NewLogger(l *zap.Logger) *Logger {
	return &Logger{s: l.With(zap.String("component", "temporal")).Sugar()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
