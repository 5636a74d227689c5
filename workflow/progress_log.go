package workflow

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// progressLog writes one JSON line per event to <dir>/<executionID>.jsonl.
// Open and write failures are logged and otherwise ignored.
type progressLog struct {
	logger *zap.Logger
	path   string
	close  func()
}

func openProgressLog(dir, executionID string, warn *zap.Logger) *progressLog {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		warn.Warn("progress log disabled", zap.String("dir", dir), zap.Error(err))
		return nil
	}

	path := filepath.Join(dir, executionID+".jsonl")
	sink, closeSink, err := zap.Open(path)
	if err != nil {
		warn.Warn("progress log disabled", zap.String("path", path), zap.Error(err))
		return nil
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zapcore.DebugLevel)

	// 写入失败只记录到主日志
	errOut := zapcore.AddSync(&warnWriter{logger: warn})
	logger := zap.New(core, zap.ErrorOutput(errOut)).With(zap.String("execution_id", executionID))

	return &progressLog{logger: logger, path: path, close: closeSink}
}

func (p *progressLog) record(e Event) {
	if p == nil {
		return
	}
	fields := []zap.Field{zap.String("event", string(e.Type()))}

	switch ev := e.(type) {
	case StepStarted:
		fields = append(fields, stepFields(ev.StepRef)...)
		if ev.ResumeSessionID != "" {
			fields = append(fields, zap.String("resume_session_id", ev.ResumeSessionID))
		}
		p.logger.Info("step started", fields...)
	case StepCompleted:
		fields = append(fields, stepFields(ev.StepRef)...)
		fields = append(fields,
			zap.String("session_id", ev.Output.SessionID),
			zap.Int("output_bytes", len(ev.Output.Result)),
			zap.Duration("duration", ev.Duration))
		p.logger.Info("step completed", fields...)
	case StepFailed:
		fields = append(fields, stepFields(ev.StepRef)...)
		fields = append(fields, zap.Error(ev.Err), zap.Duration("duration", ev.Duration))
		p.logger.Error("step failed", fields...)
	case StepSkipped:
		fields = append(fields, stepFields(ev.StepRef)...)
		fields = append(fields, zap.String("reason", ev.Reason))
		p.logger.Info("step skipped", fields...)
	case WorkflowCompleted:
		fields = append(fields,
			zap.Int("steps_executed", ev.Result.StepsExecuted),
			zap.Int64("execution_time_ms", ev.Result.ExecutionTimeMs))
		p.logger.Info("workflow completed", fields...)
	case WorkflowFailed:
		fields = append(fields, zap.Error(ev.Err), zap.Int("steps_executed", ev.StepsExecuted))
		p.logger.Error("workflow failed", fields...)
	case WorkflowPaused:
		fields = append(fields, zap.String("reason", string(ev.Reason)), zap.Int("next_step", ev.NextStep))
		if ev.Err != nil {
			fields = append(fields, zap.Error(ev.Err))
		}
		p.logger.Warn("workflow paused", fields...)
	}
}

func stepFields(ref StepRef) []zap.Field {
	return []zap.Field{
		zap.String("step_id", ref.StepID),
		zap.Int("step_index", ref.StepIndex),
		zap.Int("total", ref.Total),
		zap.String("job", ref.Job),
	}
}

func (p *progressLog) Close() {
	if p == nil {
		return
	}
	_ = p.logger.Sync()
	p.close()
}

// warnWriter forwards zap's internal errors to another logger.
type warnWriter struct {
	logger *zap.Logger
}

func (w *warnWriter) Write(b []byte) (int, error) {
	w.logger.Warn("progress log write failed", zap.ByteString("detail", b))
	return len(b), nil
}
