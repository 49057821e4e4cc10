// Package room implements the per-room state machine and
// concurrency model: the hard part of the spec. A Room is an actor --
// a single goroutine serially consuming an inbox -- grounded on the
// teacher's internal/lobby.Lobby, generalized from a draft-pick
// command reducer into the four-state race lifecycle of spec.md
// §4.4.1, with a broadcast bus, a tick scheduler, and bot simulation
// tasks layered on top.
package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/rracer/server/internal/fsm"
	"github.com/rracer/server/internal/passage"
	"github.com/rracer/server/internal/wpm"
	"github.com/rracer/server/pkg/protocol"
)

var errRoomClosed = errors.New("room closed")

// Config carries every tunable spec.md leaves as an implementation
// default, following the teacher's own Rules{PickTimerSec: 25, ...}
// pattern of keeping knobs on state instead of scattered constants.
type Config struct {
	HumanCap         int
	BotFill          int
	CountdownDuration time.Duration
	PassageTimeout   time.Duration
	BroadcastBuffer  int
	RateLimitWindow  time.Duration
	RateLimitMax     int
	TickInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		HumanCap:          5,
		BotFill:           5,
		CountdownDuration: 3 * time.Second,
		PassageTimeout:    250 * time.Millisecond,
		BroadcastBuffer:   64,
		RateLimitWindow:   100 * time.Millisecond,
		RateLimitMax:      20,
		TickInterval:      50 * time.Millisecond, // 20Hz
	}
}

// --- inbox messages ------------------------------------------------------

type msg interface{ isRoomMsg() }

type cmdJoin struct {
	name  string
	reply chan joinResult
}

type joinResult struct {
	outbox chan protocol.ServerMsg
	err    protocol.ErrorCode
}

type cmdKey struct {
	name string
	ch   string
	ts   uint64
}

type cmdReset struct{ name string }

type cmdLeave struct{ name string }

type cmdTick struct{}

type cmdBotProgress struct {
	name     string
	pos      int
	finished bool
}

type cmdSnapshot struct{ reply chan Snapshot }

func (cmdJoin) isRoomMsg()        {}
func (cmdKey) isRoomMsg()         {}
func (cmdReset) isRoomMsg()       {}
func (cmdLeave) isRoomMsg()       {}
func (cmdTick) isRoomMsg()        {}
func (cmdBotProgress) isRoomMsg() {}
func (cmdSnapshot) isRoomMsg()    {}

// Snapshot is a read-only view for tests and for the Registry's
// idle-reap bookkeeping -- mirrors the teacher's lobby.View/GetState.
type Snapshot struct {
	State       fsm.State
	HumanCount  int
	BotCount    int
	PlayerCount int
}

// Room is the central state machine of spec.md §4.4. It owns its
// player set, passage, race clock, and broadcast bus exclusively;
// everything else addresses it through Join/Key/Reset/Leave/Snapshot.
type Room struct {
	name     string
	inbox    chan msg
	cfg      Config
	provider passage.Provider
	log      *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	// controller-owned state: touched only inside loop's goroutine.
	state             fsm.State
	players           map[string]*Player
	order             []string
	passage           string
	countdownDeadline time.Time
	raceStartedAt     time.Time
	raceCancel        context.CancelFunc
	bus               *bus
	rng               *rand.Rand
}

func NewRoom(parent context.Context, name string, cfg Config, provider passage.Provider, log *zap.SugaredLogger) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		name:     name,
		inbox:    make(chan msg, 64),
		cfg:      cfg,
		provider: provider,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		state:    fsm.Waiting,
		players:  make(map[string]*Player),
		bus:      newBus(cfg.BroadcastBuffer),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	go r.loop()
	go r.tickLoop()
	return r
}

func (r *Room) Name() string { return r.name }

// Close tears the Room down: the controller and tick loop exit and
// every subscriber channel is closed.
func (r *Room) Close() { r.cancel() }

// --- public, blocking-channel API ----------------------------------------

func (r *Room) Join(name string) (outbox chan protocol.ServerMsg, errCode protocol.ErrorCode, err error) {
	reply := make(chan joinResult, 1)
	select {
	case r.inbox <- cmdJoin{name: name, reply: reply}:
	case <-r.ctx.Done():
		return nil, "", errRoomClosed
	}
	select {
	case res := <-reply:
		return res.outbox, res.err, nil
	case <-r.ctx.Done():
		return nil, "", errRoomClosed
	}
}

func (r *Room) Key(name, ch string, ts uint64) {
	select {
	case r.inbox <- cmdKey{name: name, ch: ch, ts: ts}:
	case <-r.ctx.Done():
	}
}

func (r *Room) Reset(name string) {
	select {
	case r.inbox <- cmdReset{name: name}:
	case <-r.ctx.Done():
	}
}

func (r *Room) Leave(name string) {
	select {
	case r.inbox <- cmdLeave{name: name}:
	case <-r.ctx.Done():
	}
}

func (r *Room) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case r.inbox <- cmdSnapshot{reply: reply}:
	case <-r.ctx.Done():
		return Snapshot{}
	}
	select {
	case s := <-reply:
		return s
	case <-r.ctx.Done():
		return Snapshot{}
	}
}

// --- controller loop ------------------------------------------------------

func (r *Room) loop() {
	defer r.shutdown()
	for {
		select {
		case <-r.ctx.Done():
			return
		case m := <-r.inbox:
			r.handle(m)
		}
	}
}

func (r *Room) tickLoop() {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			select {
			case r.inbox <- cmdTick{}:
			case <-r.ctx.Done():
				return
			default:
				// controller is backed up; skip this tick rather than block it further.
			}
		}
	}
}

func (r *Room) shutdown() {
	if r.raceCancel != nil {
		r.raceCancel()
	}
	for name := range r.bus.subs {
		r.bus.unsubscribe(name)
	}
}

// handle recovers from any panic while applying a single message so a
// bug in one command can never poison the rest of the Room -- the
// same isolation spec.md §7 demands of bot and tick tasks, extended
// to the controller itself.
func (r *Room) handle(m msg) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("room controller recovered from panic", "room", r.name, "panic", rec)
		}
	}()
	switch cmd := m.(type) {
	case cmdJoin:
		r.handleJoin(cmd)
	case cmdKey:
		r.handleKey(cmd)
	case cmdReset:
		r.handleReset(cmd)
	case cmdLeave:
		r.handleLeave(cmd)
	case cmdTick:
		r.handleTick()
	case cmdBotProgress:
		r.handleBotProgress(cmd)
	case cmdSnapshot:
		r.handleSnapshot(cmd)
	}
}

// --- Join -----------------------------------------------------------------

func (r *Room) handleJoin(cmd cmdJoin) {
	// spec.md §4.4.2 mandates rejection in Countdown/Racing. Finished
	// is left undefined by the transition table; we reject it too so
	// the "passage is empty only in Waiting" invariant never has to
	// be re-established mid-admission -- see DESIGN.md Open Questions.
	if r.state != fsm.Waiting {
		cmd.reply <- joinResult{err: protocol.ErrCodeWrongState}
		return
	}
	if !protocol.ValidName(cmd.name) {
		cmd.reply <- joinResult{err: protocol.ErrCodeNameInvalid}
		return
	}
	if _, exists := r.players[cmd.name]; exists {
		cmd.reply <- joinResult{err: protocol.ErrCodeNameTaken}
		return
	}
	if r.humanCount() >= r.cfg.HumanCap {
		cmd.reply <- joinResult{err: protocol.ErrCodeRoomFull}
		return
	}

	outbox := r.bus.subscribe(cmd.name)
	r.players[cmd.name] = &Player{Name: cmd.name, JoinedAt: time.Now()}
	r.order = append(r.order, cmd.name)
	cmd.reply <- joinResult{outbox: outbox}

	r.broadcastLobby()
	r.maybeStartCountdown()
}

func (r *Room) humanCount() int {
	n := 0
	for _, p := range r.players {
		if !p.IsBot {
			n++
		}
	}
	return n
}

func (r *Room) maybeStartCountdown() {
	if r.state != fsm.Waiting || r.humanCount() < 2 {
		return
	}
	next, ok := fsm.Transition(r.state, fsm.EventQuorumReached)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.PassageTimeout)
	text, err := r.provider.Random(ctx)
	cancel()
	if err != nil || text == "" {
		r.log.Warnw("passage provider failed or timed out, using static fallback", "room", r.name, "error", err)
		text = passage.Static[r.rng.Intn(len(passage.Static))]
	}

	r.passage = text
	r.state = next
	r.fillBots()
	r.countdownDeadline = time.Now().Add(r.cfg.CountdownDuration)

	r.broadcastLobby()
	r.broadcast(protocol.NewCountdown(r.passage, uint64(r.cfg.CountdownDuration.Milliseconds())))
	r.broadcast(protocol.NewStateChange(protocol.StateCountdown))
}

func (r *Room) fillBots() {
	needed := r.cfg.BotFill - len(r.players)
	for i := 0; i < needed; i++ {
		name := r.uniqueBotName()
		speed := 40 + r.rng.Float64()*50 // uniform [40, 90]
		r.players[name] = &Player{Name: name, IsBot: true, BotSpeedWPM: speed, JoinedAt: time.Now()}
		r.order = append(r.order, name)
	}
}

func (r *Room) uniqueBotName() string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("Bot %d", i)
		if _, exists := r.players[name]; !exists {
			return name
		}
	}
}

// --- tick / race start ------------------------------------------------------

func (r *Room) handleTick() {
	if r.state == fsm.Countdown && !r.countdownDeadline.IsZero() && !time.Now().Before(r.countdownDeadline) {
		r.startRacing()
	}
}

func (r *Room) startRacing() {
	next, ok := fsm.Transition(r.state, fsm.EventCountdownElapsed)
	if !ok {
		return
	}
	r.state = next
	r.raceStartedAt = time.Now()

	raceCtx, cancel := context.WithCancel(r.ctx)
	r.raceCancel = cancel

	r.broadcast(protocol.NewStart(uint64(r.raceStartedAt.UnixMilli())))

	for _, name := range r.order {
		p := r.players[name]
		if p.IsBot {
			go runBot(raceCtx, p.Name, p.BotSpeedWPM, len(r.passage), r.inbox)
		}
	}
}

// --- keystrokes ------------------------------------------------------------

func (r *Room) handleKey(cmd cmdKey) {
	p, ok := r.players[cmd.name]
	if !ok || p.IsBot {
		return
	}
	if r.state != fsm.Racing {
		r.unicast(cmd.name, protocol.NewError(protocol.ErrCodeWrongState, "race is not active"))
		return
	}
	now := time.Now()
	if !p.allowKeystroke(now, r.cfg.RateLimitWindow, r.cfg.RateLimitMax) {
		r.unicast(cmd.name, protocol.NewError(protocol.ErrCodeRateLimited, "slow down"))
		return
	}
	if p.Position >= len(r.passage) {
		return // already finished; drop silently
	}
	expected := r.passage[p.Position]
	if len(cmd.ch) == 1 && cmd.ch[0] == expected {
		p.Position++
		r.broadcast(protocol.NewProgress(p.Name, p.Position))
		if p.Position >= len(r.passage) {
			r.finishPlayer(p, now)
			r.maybeCollapseToFinished()
		}
	} else {
		p.Errors++
	}
}

func (r *Room) finishPlayer(p *Player, now time.Time) {
	p.FinishedAt = now
	elapsed := now.Sub(r.raceStartedAt).Seconds()
	grossWPM := wpm.Gross(len(r.passage), elapsed)
	netWPM := wpm.Net(len(r.passage), elapsed, p.Errors)
	acc := wpm.Accuracy(p.Position, p.Position+p.Errors)
	r.broadcast(protocol.NewFinish(p.Name, grossWPM, netWPM, acc))
}

func (r *Room) maybeCollapseToFinished() {
	if r.state != fsm.Racing || len(r.players) == 0 {
		return
	}
	for _, p := range r.players {
		if !p.finished() {
			return
		}
	}
	next, ok := fsm.Transition(r.state, fsm.EventAllFinished)
	if !ok {
		return
	}
	r.state = next
	if r.raceCancel != nil {
		r.raceCancel()
		r.raceCancel = nil
	}
	r.broadcast(protocol.NewStateChange(protocol.StateFinished))
}

// --- bot progress ------------------------------------------------------

func (r *Room) handleBotProgress(cmd cmdBotProgress) {
	if r.state != fsm.Racing {
		return
	}
	p, ok := r.players[cmd.name]
	if !ok || !p.IsBot || p.finished() {
		return
	}
	p.Position = cmd.pos
	r.broadcast(protocol.NewProgress(p.Name, p.Position))
	if cmd.finished {
		p.FinishedAt = time.Now()
		r.broadcast(protocol.NewFinish(p.Name, p.BotSpeedWPM, p.BotSpeedWPM, 100))
	}
	r.maybeCollapseToFinished()
}

// --- reset ------------------------------------------------------------

func (r *Room) handleReset(cmd cmdReset) {
	if r.state != fsm.Finished {
		return // duplicate/out-of-state Reset is a no-op
	}
	if _, ok := r.players[cmd.name]; !ok {
		return
	}
	next, ok := fsm.Transition(r.state, fsm.EventReset)
	if !ok {
		return
	}
	r.state = next

	if r.raceCancel != nil {
		r.raceCancel()
		r.raceCancel = nil
	}

	newOrder := make([]string, 0, len(r.order))
	for _, name := range r.order {
		p := r.players[name]
		if p.IsBot {
			delete(r.players, name)
			continue
		}
		p.resetProgress()
		newOrder = append(newOrder, name)
	}
	r.order = newOrder
	r.passage = ""
	r.countdownDeadline = time.Time{}
	r.raceStartedAt = time.Time{}

	r.broadcastLobby()
	r.broadcast(protocol.NewStateChange(protocol.StateWaiting))
	r.maybeStartCountdown()
}

// --- leave / disconnect ------------------------------------------------------

func (r *Room) handleLeave(cmd cmdLeave) {
	p, ok := r.players[cmd.name]
	if !ok {
		return
	}
	delete(r.players, cmd.name)
	r.removeFromOrder(cmd.name)
	if !p.IsBot {
		r.bus.unsubscribe(cmd.name)
	}
	r.broadcastLobby()

	switch r.state {
	case fsm.Countdown:
		if r.humanCount() < 2 {
			r.abortCountdown()
		}
	case fsm.Racing:
		r.maybeCollapseToFinished()
	}
}

func (r *Room) abortCountdown() {
	next, ok := fsm.Transition(r.state, fsm.EventAbort)
	if !ok {
		return
	}
	r.state = next
	r.countdownDeadline = time.Time{}
	for name, p := range r.players {
		if p.IsBot {
			delete(r.players, name)
		}
	}
	r.order = r.humanOrder()
	r.passage = ""

	r.broadcastLobby()
	r.broadcast(protocol.NewStateChange(protocol.StateWaiting))
}

func (r *Room) humanOrder() []string {
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if p, ok := r.players[name]; ok && !p.IsBot {
			out = append(out, name)
		}
	}
	return out
}

func (r *Room) removeFromOrder(name string) {
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// --- broadcast helpers ------------------------------------------------------

func (r *Room) broadcast(m protocol.ServerMsg) {
	for _, dropped := range r.bus.publish(m) {
		r.log.Infow("dropped lagging subscriber", "room", r.name, "player", dropped)
		r.queueLeave(dropped)
	}
}

func (r *Room) unicast(name string, m protocol.ServerMsg) {
	if r.bus.sendTo(name, m) {
		r.log.Infow("dropped lagging subscriber", "room", r.name, "player", name)
		r.queueLeave(name)
	}
}

// queueLeave re-enters the actor's own inbox so a dropped subscriber
// is removed through the same path as any other disconnect, instead
// of mutating player state reentrantly while broadcasting.
func (r *Room) queueLeave(name string) {
	select {
	case r.inbox <- cmdLeave{name: name}:
	default:
		r.log.Warnw("inbox full, could not queue leave for lagging subscriber", "room", r.name, "player", name)
	}
}

func (r *Room) broadcastLobby() {
	r.broadcast(protocol.NewLobby(append([]string(nil), r.order...)))
}

// --- snapshot ------------------------------------------------------

func (r *Room) handleSnapshot(cmd cmdSnapshot) {
	snap := Snapshot{State: r.state, PlayerCount: len(r.players)}
	for _, p := range r.players {
		if p.IsBot {
			snap.BotCount++
		} else {
			snap.HumanCount++
		}
	}
	cmd.reply <- snap
}
