package logtrace

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tansive/catalogsync/internal/common/uuid"
)

// WithRun generates a new run id and returns it with a context carrying a logger tagged with it.
func WithRun(ctx context.Context) (context.Context, string) {
	runID := uuid.New().String()
	logger := log.Ctx(ctx).With().Str("run_id", runID).Logger()
	return logger.WithContext(ctx), runID
}

// WithFields returns ctx with a child logger carrying the given string fields.
func WithFields(ctx context.Context, kv ...string) context.Context {
	lc := log.Ctx(ctx).With()
	for i := 0; i+1 < len(kv); i += 2 {
		lc = lc.Str(kv[i], kv[i+1])
	}
	logger := lc.Logger()
	return logger.WithContext(ctx)
}

// Logger is a shorthand for log.Ctx that never returns a disabled logger when ctx has none.
func Logger(ctx context.Context) *zerolog.Logger {
	l := log.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &log.Logger
	}
	return l
}
