package app

import (
	"context"
	"sync"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// WorkerPool fait tourner N workers sur la file des jobs, ajustable à chaud
// via SetCount. Chaque worker s'arrête sur cancel() de son contexte ; une
// panique dans un executor remonte au Close().
//
// Les sessions navigateur restent sérialisées par le bail du resolver :
// plusieurs workers ne font que mettre en file leurs tentatives.
type WorkerPool struct {
	parent context.Context

	logger zerolog.Logger
	repo   ports.JobRepository
	bus    ports.EventBus
	execs  ExecutorRegistry
	opts   WorkerOptions

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      conc.WaitGroup
}

func NewWorkerPool(parent context.Context, logger zerolog.Logger, repo ports.JobRepository, bus ports.EventBus, execs ExecutorRegistry, opts WorkerOptions) *WorkerPool {
	if parent == nil {
		parent = context.Background()
	}
	return &WorkerPool{parent: parent, logger: logger, repo: repo, bus: bus, execs: execs, opts: opts}
}

func (p *WorkerPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

func (p *WorkerPool) SetCount(n int) {
	if n <= 0 {
		n = 1
	}

	p.mu.Lock()
	current := len(p.cancels)

	if n == current {
		p.mu.Unlock()
		return
	}

	if n > current {
		for i := current; i < n; i++ {
			ctx, cancel := context.WithCancel(p.parent)
			p.cancels = append(p.cancels, cancel)
			w := NewWorker(p.logger.With().Int("worker", i+1).Logger(), p.repo, p.bus, p.execs, p.opts)
			p.wg.Go(func() { w.Run(ctx) })
		}
		p.mu.Unlock()
		return
	}

	// réduction : stoppe les derniers workers
	toStop := append([]context.CancelFunc(nil), p.cancels[n:]...)
	p.cancels = p.cancels[:n]
	p.mu.Unlock()

	for _, cancel := range toStop {
		cancel()
	}
}

func (p *WorkerPool) Close() {
	p.mu.Lock()
	toStop := append([]context.CancelFunc(nil), p.cancels...)
	p.cancels = nil
	p.mu.Unlock()

	for _, cancel := range toStop {
		cancel()
	}
	p.wg.Wait()
}
