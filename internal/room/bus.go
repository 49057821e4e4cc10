package room

import "github.com/rracer/server/pkg/protocol"

// bus is the per-Room multi-consumer broadcast described in
// spec.md §4.4.5. It is touched only by the Room controller
// goroutine, which is why it carries no lock -- the single-consumer
// inbox already serializes every access, the same way the teacher's
// internal/lobby.Lobby owns its clients map without one.
type bus struct {
	subs    map[string]chan protocol.ServerMsg
	bufSize int
}

func newBus(bufSize int) *bus {
	return &bus{subs: make(map[string]chan protocol.ServerMsg), bufSize: bufSize}
}

func (b *bus) subscribe(name string) chan protocol.ServerMsg {
	ch := make(chan protocol.ServerMsg, b.bufSize)
	b.subs[name] = ch
	return ch
}

func (b *bus) unsubscribe(name string) {
	if ch, ok := b.subs[name]; ok {
		delete(b.subs, name)
		close(ch)
	}
}

// publish delivers msg to every subscriber without blocking the
// caller. A subscriber whose buffer is already full is sent a
// best-effort Lagging error and dropped -- the Room can never be
// stalled by one slow client. Returns the names dropped this round so
// the caller can fold them into ordinary player removal.
func (b *bus) publish(msg protocol.ServerMsg) []string {
	var dropped []string
	for name, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.dropLagging(name, ch)
			dropped = append(dropped, name)
		}
	}
	return dropped
}

// sendTo unicasts msg to a single subscriber (e.g. a validation
// error meant only for the offending client, never broadcast).
// Reports whether the subscriber was dropped for lagging.
func (b *bus) sendTo(name string, msg protocol.ServerMsg) (dropped bool) {
	ch, ok := b.subs[name]
	if !ok {
		return false
	}
	select {
	case ch <- msg:
		return false
	default:
		b.dropLagging(name, ch)
		return true
	}
}

func (b *bus) dropLagging(name string, ch chan protocol.ServerMsg) {
	select {
	case ch <- protocol.NewError(protocol.ErrCodeLagging, "subscriber buffer overflow"):
	default:
	}
	close(ch)
	delete(b.subs, name)
}
