package downloader

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const burstMultiplier = 2

// newLimiter returns nil for an unlimited rate.
func newLimiter(bytesPerSecond int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond*burstMultiplier)
}

// throttledReader blocks after each read until the limiter admits the bytes
// consumed. One limiter is shared by every download worker.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func throttle(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &throttledReader{ctx: ctx, r: r, limiter: limiter}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if waitErr := waitN(t.ctx, t.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// waitN splits requests larger than the burst, which WaitN rejects.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()
	for n > 0 {
		take := min(n, burst)
		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}
