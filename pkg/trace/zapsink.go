package trace

import "go.uber.org/zap"

// ZapSink emits each Round as one structured log line, in the style the
// teacher's sibling ardikabs/hibernator uses go.uber.org/zap throughout:
// one *zap.Logger threaded in by the caller, one structured Info (or,
// for a failed commit, Error) call per round plus a Debug line carrying
// the rendered diff when there is one, never package-level loggers.
type ZapSink struct {
	Logger *zap.Logger
}

// NewZapSink builds a ZapSink around logger. A nil logger is replaced
// with zap.NewNop() so a Sink is always safe to Emit to.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{Logger: logger}
}

func (z *ZapSink) Emit(r Round) {
	fields := []zap.Field{
		zap.String("round_id", r.RoundID),
		zap.String("request", r.Request),
		zap.String("internal_key", r.InternalKey),
		zap.Int("initial_size", r.InitialSize),
		zap.Int("merged_size", r.MergedSize),
		zap.Int("rejected_count", len(r.Rejected)),
		zap.Bool("commit_ok", r.CommitOK),
	}
	for _, s := range r.Sources {
		fields = append(fields, zap.String("source."+string(s.Source), string(s.Status)))
	}
	for _, w := range r.Warnings {
		fields = append(fields, zap.String("warning", w))
	}

	if !r.CommitOK {
		fields = append(fields, zap.String("commit_err", r.CommitErr))
		z.Logger.Error("reconciliation round failed", fields...)
		return
	}
	z.Logger.Info("reconciliation round", fields...)
	if r.Diff != "" {
		z.Logger.Debug("reconciliation round diff", zap.String("round_id", r.RoundID), zap.String("diff", r.Diff))
	}
}
