package synth

import (
	"context"
	"log/slog"

	"github.com/voicelane/narrator/pkg/narration"
)

// Failover is a one-shot Vendor that retries a secondary backend when the
// primary fails with a connectivity or protocol error. Application-level
// rejections (bad voice id, invalid text) are not retried: the secondary
// would reject them too.
type Failover struct {
	primary   Vendor
	secondary Vendor
	logger    *slog.Logger
}

// NewFailover creates a failover vendor. A nil logger falls back to
// slog.Default.
func NewFailover(primary, secondary Vendor, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{primary: primary, secondary: secondary, logger: logger}
}

func (f *Failover) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *Failover) Synthesize(ctx context.Context, req Request) (*Result, error) {
	res, err := f.primary.Synthesize(ctx, req)
	if err == nil {
		return res, nil
	}
	if !narration.Fallbackable(err) {
		return nil, err
	}

	f.logger.Warn("primary vendor failed, trying secondary",
		slog.String("primary", f.primary.Name()),
		slog.String("secondary", f.secondary.Name()),
		slog.String("error", err.Error()))

	return f.secondary.Synthesize(ctx, req)
}

var _ Vendor = (*Failover)(nil)
