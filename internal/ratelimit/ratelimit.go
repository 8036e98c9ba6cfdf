// Package ratelimit provides the per-session upload/download token buckets
// shared by every peer connection.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps a pair of token buckets, one per direction. A zero limit
// disables limiting for that direction.
type Limiter struct {
	down *rate.Limiter
	up   *rate.Limiter
}

// New returns a Limiter capped at downBytesPerSec / upBytesPerSec; 0 means
// unlimited for that direction.
func New(downBytesPerSec, upBytesPerSec int) *Limiter {
	return &Limiter{
		down: newBucket(downBytesPerSec),
		up:   newBucket(upBytesPerSec),
	}
}

func newBucket(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

// WaitDownload blocks until n bytes of download bandwidth are available.
func (l *Limiter) WaitDownload(ctx context.Context, n int) error {
	return waitN(ctx, l.down, n)
}

// WaitUpload blocks until n bytes of upload bandwidth are available.
func (l *Limiter) WaitUpload(ctx context.Context, n int) error {
	return waitN(ctx, l.up, n)
}

// waitN takes n tokens from lim in chunks no larger than its burst, since
// rate.Limiter.WaitN rejects any single request bigger than the burst.
func waitN(ctx context.Context, lim *rate.Limiter, n int) error {
	if lim.Limit() == rate.Inf {
		return nil
	}
	for n > 0 {
		chunk := n
		if b := lim.Burst(); chunk > b {
			chunk = b
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// SetDownloadLimit changes the download bucket rate; 0 disables limiting.
func (l *Limiter) SetDownloadLimit(bytesPerSec int) {
	setLimit(l.down, bytesPerSec)
}

// SetUploadLimit changes the upload bucket rate; 0 disables limiting.
func (l *Limiter) SetUploadLimit(bytesPerSec int) {
	setLimit(l.up, bytesPerSec)
}

func setLimit(lim *rate.Limiter, bytesPerSec int) {
	if bytesPerSec <= 0 {
		lim.SetLimit(rate.Inf)
		lim.SetBurst(0)
		return
	}
	lim.SetLimit(rate.Limit(bytesPerSec))
	lim.SetBurst(bytesPerSec)
}
