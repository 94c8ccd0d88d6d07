package symbolmeta

import (
	"context"
	"time"
)

const day = 24 * time.Hour

// MidnightScheduler runs Load once at startup, again at the next UTC
// midnight and every 24 hours after that.
type MidnightScheduler struct {
	Load func(ctx context.Context)
	Now  func() time.Time // defaults to time.Now
}

// NextMidnight returns the first UTC midnight strictly after t.
func NextMidnight(t time.Time) time.Time {
	return t.UTC().Truncate(day).Add(day)
}

// Run blocks until ctx is cancelled.
func (m *MidnightScheduler) Run(ctx context.Context) error {
	now := m.Now
	if now == nil {
		now = time.Now
	}

	// Run immediately once at startup
	m.Load(ctx)

	// Wait until next UTC midnight
	t := now()
	wait := time.NewTimer(NextMidnight(t).Sub(t))
	defer wait.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-wait.C:
	}

	// Then run once every 24 hours
	ticker := time.NewTicker(day)
	defer ticker.Stop()

	for {
		m.Load(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
