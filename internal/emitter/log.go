package emitter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// LogEmitter writes a structured summary of each report.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates a log emitter writing to logger.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit logs one line per region and a run summary.
func (l *LogEmitter) Emit(_ context.Context, rep *resource.Report) error {
	if rep.Failed() {
		l.logger.Error().
			Str("run_id", rep.RunID).
			Str("failure", rep.Failure).
			Msg("run failed")
		return nil
	}

	for _, res := range rep.Regions {
		ev := l.logger.Info()
		if res.Err != nil {
			ev = l.logger.Warn().Err(res.Err)
		}
		for _, kind := range resource.AllKinds {
			kr := res.Kind(kind)
			ev = ev.Strs(string(kind), kr.IDs)
			if kr.Err != nil {
				ev = ev.Str(string(kind)+"_error", kr.Err.Error())
			}
		}
		ev.Str("run_id", rep.RunID).
			Str("region", res.Region).
			Bool("dry_run", res.DryRun).
			Dur("duration", res.Duration).
			Msg("region report")
	}

	totals := rep.Totals()
	ev := l.logger.Info().
		Str("run_id", rep.RunID).
		Bool("dry_run", rep.DryRun).
		Int("regions", len(rep.Regions)).
		Strs("skipped", rep.Skipped)
	for _, kind := range resource.AllKinds {
		ev = ev.Int(string(kind), totals[kind])
	}
	ev.Dur("duration", rep.Duration).Msg("run report")
	return nil
}

// Close is a no-op for the log emitter.
func (l *LogEmitter) Close() error {
	return nil
}
