package memorybus

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

const defaultBuffer = 64

type subscriber struct {
	ch       chan ports.Event
	prefixes []string
}

func (s subscriber) wants(topic string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

// Bus diffuse les événements du process (jobs, épisodes, follows) aux
// abonnés SSE. Un abonné trop lent perd des événements, jamais le publieur.
type Bus struct {
	mu     sync.Mutex
	subs   map[chan ports.Event]subscriber
	alive  bool
	buffer int

	dropped atomic.Int64
}

func New() *Bus {
	return NewWithBuffer(defaultBuffer)
}

func NewWithBuffer(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[chan ports.Event]subscriber), alive: true, buffer: buffer}
}

func (b *Bus) Publish(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	evt := ports.Event{Topic: topic, Payload: payload}
	for ch, sub := range b.subs {
		if !sub.wants(topic) {
			continue
		}
		select {
		case ch <- evt:
		default:
			// drop si le client est trop lent
			b.dropped.Add(1)
		}
	}
}

// Subscribe renvoie les événements dont le topic commence par l'un des
// préfixes (tous si aucun).
func (b *Bus) Subscribe(prefixes ...string) (<-chan ports.Event, func()) {
	ch := make(chan ports.Event, b.buffer)
	b.mu.Lock()
	if !b.alive {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = subscriber{ch: ch, prefixes: prefixes}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

// Dropped compte les événements perdus par des abonnés saturés.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close ferme tous les abonnements; Publish devient un no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return
	}
	b.alive = false
	for ch := range b.subs {
		close(ch)
	}
	b.subs = map[chan ports.Event]subscriber{}
}
