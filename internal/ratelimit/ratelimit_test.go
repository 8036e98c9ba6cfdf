package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnlimitedByDefaultIsInstant(t *testing.T) {
	require := require.New(t)
	l := New(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(l.WaitDownload(ctx, 10*1024*1024))
	require.NoError(l.WaitUpload(ctx, 10*1024*1024))
}

func TestSetLimitThrottles(t *testing.T) {
	require := require.New(t)
	l := New(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.WaitDownload(ctx, 1000)
	require.Error(err)
}
