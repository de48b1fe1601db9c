package cancel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenWriteOnce(t *testing.T) {
	tok := New()
	assert.False(t, tok.Cancelled())

	assert.True(t, tok.Cancel(), "first Cancel should set the flag")
	assert.False(t, tok.Cancel(), "second Cancel should be a no-op")
	assert.True(t, tok.Cancelled())

	select {
	case <-tok.Done():
	default:
		t.Fatal("Done() should be closed after Cancel")
	}
}

func TestNilTokenNeverCancelled(t *testing.T) {
	var tok *Token
	assert.False(t, tok.Cancelled())
}

func TestBindCancelsOnContextDone(t *testing.T) {
	tok := New()
	ctx, cancel := context.WithCancel(context.Background())
	stop := tok.Bind(ctx)
	defer stop()

	cancel()
	require.Eventually(t, tok.Cancelled, time.Second, 5*time.Millisecond)
}

func TestBindStopDoesNotCancel(t *testing.T) {
	tok := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := tok.Bind(ctx)
	stop()
	stop()

	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tok.Cancelled())
}

func TestContextFollowsToken(t *testing.T) {
	tok := New()
	ctx, cancel := tok.Context(context.Background())
	defer cancel()

	tok.Cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context should be cancelled with the token")
	}
}
