package esindex

import "go.uber.org/zap"

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	l *zap.SugaredLogger
}

func (r *retryLogger) Error(msg string, kv ...any) { r.l.Errorw(msg, kv...) }
func (r *retryLogger) Info(msg string, kv ...any)  { r.l.Debugw(msg, kv...) }
func (r *retryLogger) Debug(msg string, kv ...any) { r.l.Debugw(msg, kv...) }
func (r *retryLogger) Warn(msg string, kv ...any)  { r.l.Warnw(msg, kv...) }
