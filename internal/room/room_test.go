package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rracer/server/internal/fsm"
	"github.com/rracer/server/internal/passage"
	"github.com/rracer/server/pkg/protocol"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CountdownDuration = 60 * time.Millisecond
	cfg.TickInterval = 5 * time.Millisecond
	cfg.PassageTimeout = 50 * time.Millisecond
	return cfg
}

func newTestRoom(t *testing.T, cfg Config, text string) *Room {
	t.Helper()
	log := zap.NewNop().Sugar()
	provider := fixedProvider{text: text}
	r := NewRoom(context.Background(), "r1", cfg, provider, log)
	t.Cleanup(r.Close)
	return r
}

type fixedProvider struct{ text string }

func (f fixedProvider) Random(ctx context.Context) (string, error) { return f.text, nil }

func recv(t *testing.T, ch <-chan protocol.ServerMsg, within time.Duration) protocol.ServerMsg {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed unexpectedly")
		}
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for a message")
		return protocol.ServerMsg{}
	}
}

func drainUntil(t *testing.T, ch <-chan protocol.ServerMsg, within time.Duration, pred func(protocol.ServerMsg) bool) protocol.ServerMsg {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		select {
		case m, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed before predicate matched")
			}
			if pred(m) {
				return m
			}
		case <-time.After(time.Until(deadline)):
		}
	}
	t.Fatalf("predicate never matched within %v", within)
	return protocol.ServerMsg{}
}

func TestJoin_LoneHumanWaits(t *testing.T) {
	r := newTestRoom(t, testConfig(), "hello world")
	out, errCode, err := r.Join("alice")
	require.NoError(t, err)
	require.Empty(t, errCode)

	lobby := recv(t, out, 200*time.Millisecond)
	require.NotNil(t, lobby.Lobby)
	assert.Equal(t, []string{"alice"}, lobby.Lobby.Players)

	snap := r.Snapshot()
	assert.Equal(t, fsm.Waiting, snap.State)

	select {
	case m := <-out:
		t.Fatalf("expected no further message while alone, got %+v", m)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestJoin_QuorumStartsCountdown(t *testing.T) {
	r := newTestRoom(t, testConfig(), "hello world")
	aliceOut, _, err := r.Join("alice")
	require.NoError(t, err)
	_ = recv(t, aliceOut, 200*time.Millisecond) // Lobby[alice]

	bobOut, errCode, err := r.Join("bob")
	require.NoError(t, err)
	require.Empty(t, errCode)
	_ = bobOut

	lobbyFull := drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool {
		return m.Lobby != nil && len(m.Lobby.Players) == 5
	})
	assert.Contains(t, lobbyFull.Lobby.Players, "alice")
	assert.Contains(t, lobbyFull.Lobby.Players, "bob")

	countdown := drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool { return m.Countdown != nil })
	assert.Equal(t, "hello world", countdown.Countdown.Passage)
	assert.Equal(t, uint64(60), countdown.Countdown.StartsInMs)

	start := drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })
	assert.NotZero(t, start.Start.T0Ms)

	snap := r.Snapshot()
	assert.Equal(t, fsm.Racing, snap.State)
	assert.Equal(t, 2, snap.HumanCount)
	assert.Equal(t, 3, snap.BotCount)
}

func TestAbortDuringCountdown(t *testing.T) {
	r := newTestRoom(t, testConfig(), "hello world")
	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)
	_, _, _ = r.Join("bob")

	_ = drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool { return m.Countdown != nil })

	r.Leave("bob")

	waitingChange := drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool {
		return m.StateChange != nil && m.StateChange.State == protocol.StateWaiting
	})
	assert.Equal(t, protocol.StateWaiting, waitingChange.StateChange.State)

	snap := r.Snapshot()
	assert.Equal(t, fsm.Waiting, snap.State)
	assert.Equal(t, 0, snap.BotCount)
	assert.Equal(t, 1, snap.HumanCount)

	select {
	case m := <-aliceOut:
		if m.Start != nil {
			t.Fatalf("unexpected Start after abort")
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestJoinRejections(t *testing.T) {
	r := newTestRoom(t, testConfig(), "hello world")
	_, _, _ = r.Join("alice")

	_, code, err := r.Join("alice")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeNameTaken, code)

	_, code, err = r.Join("")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeNameInvalid, code)

	cfg := testConfig()
	cfg.HumanCap = 1
	full := newTestRoom(t, cfg, "hello world")
	_, _, _ = full.Join("only")
	_, code, err = full.Join("second")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeRoomFull, code)
}

func TestJoinRejectedDuringRacing(t *testing.T) {
	r := newTestRoom(t, testConfig(), "hello world")
	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)
	_, _, _ = r.Join("bob")

	_ = drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })

	_, code, err := r.Join("carol")
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrCodeWrongState, code)
}

func TestKeystrokeAdvancesAndFinishes(t *testing.T) {
	cfg := testConfig()
	cfg.HumanCap = 2
	cfg.BotFill = 2
	r := newTestRoom(t, cfg, "hi")
	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)
	bobOut, _, _ := r.Join("bob")
	_ = drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })
	_ = drainUntil(t, bobOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })

	r.Key("alice", "h", 0)
	p1 := drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool { return m.Progress != nil && m.Progress.ID == "alice" })
	assert.Equal(t, 1, p1.Progress.Pos)

	r.Key("alice", "i", 0)
	finish := drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool { return m.Finish != nil })
	assert.Equal(t, "alice", finish.Finish.ID)
	assert.GreaterOrEqual(t, finish.Finish.WPM, 0.0)

	// Further keys after finishing must not move position or emit anything.
	r.Key("alice", "z", 0)
	select {
	case m := <-aliceOut:
		if m.Progress != nil || m.Finish != nil {
			t.Fatalf("unexpected message after finish: %+v", m)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMismatchedKeyIncrementsErrorsNotPosition(t *testing.T) {
	cfg := testConfig()
	cfg.HumanCap = 2
	r := newTestRoom(t, cfg, "hello world")
	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)
	_, _, _ = r.Join("bob")
	_ = drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })

	r.Key("alice", "x", 0) // expected "h"
	select {
	case m := <-aliceOut:
		if m.Progress != nil {
			t.Fatalf("mismatched key must not advance position")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRateLimitRejectsExcessKeystrokes(t *testing.T) {
	cfg := testConfig()
	cfg.HumanCap = 2
	passageText := ""
	for i := 0; i < 40; i++ {
		passageText += "a"
	}
	r := newTestRoom(t, cfg, passageText)
	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)
	_, _, _ = r.Join("bob")
	_ = drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })

	for i := 0; i < 30; i++ {
		r.Key("alice", "a", 0)
	}

	rateLimited := 0
	progressed := 0
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case m := <-aliceOut:
			if m.Error != nil && m.Error.Code == protocol.ErrCodeRateLimited {
				rateLimited++
			}
			if m.Progress != nil && m.Progress.ID == "alice" {
				progressed++
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	assert.LessOrEqual(t, progressed, 20)
	assert.Greater(t, rateLimited, 0)
}

func TestResetReturnsToWaitingAndIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.HumanCap = 2
	cfg.BotFill = 2 // no bots: both humans must finish for a deterministic Finished collapse
	r := newTestRoom(t, cfg, "hi")
	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)
	bobOut, _, _ := r.Join("bob")
	_ = drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })
	_ = drainUntil(t, bobOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })

	r.Key("alice", "h", 0)
	r.Key("alice", "i", 0)
	r.Key("bob", "h", 0)
	r.Key("bob", "i", 0)

	_ = drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool {
		return m.StateChange != nil && m.StateChange.State == protocol.StateFinished
	})

	snap := r.Snapshot()
	require.Equal(t, fsm.Finished, snap.State)

	r.Reset("alice")
	waitingChange := drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool {
		return m.StateChange != nil && m.StateChange.State == protocol.StateWaiting
	})
	assert.Equal(t, protocol.StateWaiting, waitingChange.StateChange.State)

	// Both humans are still present, so Reset immediately re-arms a fresh
	// Countdown rather than idling in Waiting.
	countdownAgain := drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Countdown != nil })
	assert.NotEmpty(t, countdownAgain.Countdown.Passage)

	snap = r.Snapshot()
	assert.Equal(t, fsm.Countdown, snap.State)
	assert.Equal(t, 2, snap.HumanCount)

	// Duplicate reset while not Finished is a no-op.
	r.Reset("alice")
	snap = r.Snapshot()
	assert.Equal(t, fsm.Countdown, snap.State)
}

func TestMalformedFrameDoesNotMutateRoom(t *testing.T) {
	cfg := testConfig()
	r := newTestRoom(t, cfg, "hello world")
	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)

	_, err := protocol.DecodeClient([]byte(`{"Foo":{}}`))
	require.Error(t, err)

	snap := r.Snapshot()
	assert.Equal(t, fsm.Waiting, snap.State)
	assert.Equal(t, 1, snap.HumanCount)
}

func TestFinishMetrics(t *testing.T) {
	// drives a 300-character passage to a full finish and checks the
	// Finish event; the tabulated wpm.Gross/wpm.Net points are covered
	// in internal/wpm. The rate limit and buffers are raised so the
	// whole burst is accepted and delivered, and no bots are filled.
	passageText := make([]byte, 300)
	for i := range passageText {
		passageText[i] = 'a'
	}
	cfg := testConfig()
	cfg.HumanCap = 2
	cfg.BotFill = 2
	cfg.RateLimitMax = len(passageText)
	cfg.BroadcastBuffer = 2 * len(passageText)
	r := newTestRoom(t, cfg, string(passageText))
	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)
	_, _, _ = r.Join("bob")
	_ = drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Start != nil })

	for i := 0; i < 300; i++ {
		r.Key("alice", "a", 0)
	}
	finish := drainUntil(t, aliceOut, 2*time.Second, func(m protocol.ServerMsg) bool { return m.Finish != nil })
	assert.Equal(t, "alice", finish.Finish.ID)
	assert.GreaterOrEqual(t, finish.Finish.WPM, 0.0)
}

func TestStaticPassageFallbackOnProviderTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HumanCap = 2
	cfg.PassageTimeout = 5 * time.Millisecond
	log := zap.NewNop().Sugar()
	r := NewRoom(context.Background(), "r2", cfg, slowProvider{delay: 200 * time.Millisecond}, log)
	t.Cleanup(r.Close)

	aliceOut, _, _ := r.Join("alice")
	_ = recv(t, aliceOut, 200*time.Millisecond)
	_, _, _ = r.Join("bob")

	countdown := drainUntil(t, aliceOut, 500*time.Millisecond, func(m protocol.ServerMsg) bool { return m.Countdown != nil })
	assert.Contains(t, passage.Static, countdown.Countdown.Passage)
}

type slowProvider struct{ delay time.Duration }

func (s slowProvider) Random(ctx context.Context) (string, error) {
	select {
	case <-time.After(s.delay):
		return "too slow", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
