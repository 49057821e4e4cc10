// Package registry implements the process-wide Room directory: a
// single-consumer actor over a name-to-Room map, generalized from the
// teacher's internal/hub.Hub (which mapped lobby code to *lobby.Lobby)
// into spec.md §4.5's get_or_create/retire contract.
package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rracer/server/internal/fsm"
	"github.com/rracer/server/internal/passage"
	"github.com/rracer/server/internal/room"
)

type regMsg interface{ isRegMsg() }

type cmdGetOrCreate struct {
	name  string
	reply chan *room.Room
}

type cmdRetire struct{ name string }

type cmdReap struct{}

type cmdCount struct{ reply chan int }

func (cmdGetOrCreate) isRegMsg() {}
func (cmdRetire) isRegMsg()      {}
func (cmdReap) isRegMsg()        {}
func (cmdCount) isRegMsg()       {}

// Registry is the only shared mutable structure in the system --
// every Room it hands out is addressed exclusively through its own
// inbox and broadcast bus, per spec.md §5's "Shared resources" note.
type Registry struct {
	inbox    chan regMsg
	rooms    map[string]*room.Room
	cfg      room.Config
	provider passage.Provider
	log      *zap.SugaredLogger

	ctx          context.Context
	cancel       context.CancelFunc
	reapInterval time.Duration
}

func New(parent context.Context, cfg room.Config, provider passage.Provider, reapInterval time.Duration, log *zap.SugaredLogger) *Registry {
	ctx, cancel := context.WithCancel(parent)
	reg := &Registry{
		inbox:        make(chan regMsg, 64),
		rooms:        make(map[string]*room.Room),
		cfg:          cfg,
		provider:     provider,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		reapInterval: reapInterval,
	}
	go reg.loop()
	go reg.reapLoop()
	return reg
}

// GetOrCreate is spec.md §4.5's get_or_create: atomic with respect to
// Retire, concurrent callers for the same name observe the same Room.
func (reg *Registry) GetOrCreate(name string) *room.Room {
	reply := make(chan *room.Room, 1)
	select {
	case reg.inbox <- cmdGetOrCreate{name: name, reply: reply}:
	case <-reg.ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-reg.ctx.Done():
		return nil
	}
}

// Retire removes name from the map only if its Room is empty,
// matching spec.md §4.5's no-op-unless-empty contract.
func (reg *Registry) Retire(name string) {
	select {
	case reg.inbox <- cmdRetire{name: name}:
	case <-reg.ctx.Done():
	}
}

// Count reports the number of live rooms, for health/debug surfaces.
func (reg *Registry) Count() int {
	reply := make(chan int, 1)
	select {
	case reg.inbox <- cmdCount{reply: reply}:
	case <-reg.ctx.Done():
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-reg.ctx.Done():
		return 0
	}
}

func (reg *Registry) Close() { reg.cancel() }

func (reg *Registry) loop() {
	defer reg.shutdown()
	for {
		select {
		case <-reg.ctx.Done():
			return
		case m := <-reg.inbox:
			reg.handle(m)
		}
	}
}

func (reg *Registry) reapLoop() {
	ticker := time.NewTicker(reg.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.ctx.Done():
			return
		case <-ticker.C:
			select {
			case reg.inbox <- cmdReap{}:
			case <-reg.ctx.Done():
				return
			default:
			}
		}
	}
}

func (reg *Registry) shutdown() {
	for name, r := range reg.rooms {
		r.Close()
		delete(reg.rooms, name)
	}
}

func (reg *Registry) handle(m regMsg) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Errorw("registry recovered from panic", "panic", rec)
		}
	}()
	switch cmd := m.(type) {
	case cmdGetOrCreate:
		if r, ok := reg.rooms[cmd.name]; ok {
			cmd.reply <- r
			return
		}
		r := room.NewRoom(reg.ctx, cmd.name, reg.cfg, reg.provider, reg.log)
		reg.rooms[cmd.name] = r
		reg.log.Infow("room created", "room", cmd.name, "total_rooms", len(reg.rooms))
		cmd.reply <- r

	case cmdRetire:
		r, ok := reg.rooms[cmd.name]
		if !ok {
			return
		}
		snap := r.Snapshot()
		if snap.PlayerCount > 0 {
			return
		}
		r.Close()
		delete(reg.rooms, cmd.name)
		reg.log.Infow("room retired", "room", cmd.name, "total_rooms", len(reg.rooms))

	case cmdReap:
		reg.reapIdle()

	case cmdCount:
		cmd.reply <- len(reg.rooms)
	}
}

// reapIdle retires every Waiting room with no players, the idle
// lifecycle rule from spec.md §3 ("Registry... leaves when idle in
// Waiting beyond a configurable reap interval") generalized here into
// a periodic sweep instead of a per-room expiry timer, since rooms
// with active players are never candidates regardless of age. A room
// is reaped if it is empty and Waiting at the moment a sweep runs; how
// long it has been empty is not tracked.
func (reg *Registry) reapIdle() {
	for name, r := range reg.rooms {
		snap := r.Snapshot()
		if snap.PlayerCount == 0 && snap.State == fsm.Waiting {
			r.Close()
			delete(reg.rooms, name)
			reg.log.Infow("room reaped (idle)", "room", name)
		}
	}
}
