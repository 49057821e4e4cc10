// Package passage provides the random passage used to seed a race.
// Grounded on original_source/shared/src/passages.rs (the static
// list) and server/src/db.rs (the store-backed fallback chain).
package passage

import (
	"context"
	"math/rand"
)

// Provider returns a non-empty ASCII passage. Implementations must
// honor ctx's deadline; the Room never blocks its inbox on a slow
// provider for longer than the configured timeout.
type Provider interface {
	Random(ctx context.Context) (string, error)
}

// Static is the bundled fallback list, grounded on
// shared/src/passages.rs's PASSAGES constant.
var Static = []string{
	"The quick brown fox jumps over the lazy dog. This pangram contains every letter of the alphabet at least once.",
	"To be or not to be, that is the question: whether tis nobler in the mind to suffer the slings and arrows of outrageous fortune.",
	"In the beginning was the Word, and the Word was with God, and the Word was God.",
	"It was the best of times, it was the worst of times, it was the age of wisdom, it was the age of foolishness.",
	"Call me Ishmael. Some years ago, never mind how long precisely, having little or no money in my purse.",
	"All happy families are alike; each unhappy family is unhappy in its own way.",
	"The only way to do great work is to love what you do. If you havent found it yet, keep looking.",
	"Programming is not about typing, it's about thinking. The keyboard is just the interface between your thoughts and the computer.",
	"Go empowers everyone to build reliable and efficient software. Goroutines make concurrency a first class citizen.",
	"WebSockets allow a persistent, full duplex channel between a browser and a server over a single TCP connection.",
}

// StaticProvider always returns a uniformly random element of Static.
// It is the terminal fallback every other provider chains to.
type StaticProvider struct {
	rng *rand.Rand
}

func NewStaticProvider(seed int64) *StaticProvider {
	return &StaticProvider{rng: rand.New(rand.NewSource(seed))}
}

func (p *StaticProvider) Random(ctx context.Context) (string, error) {
	return Static[p.rng.Intn(len(Static))], nil
}
