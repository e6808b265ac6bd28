package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ResolverLease sérialise les sessions du resolver.
// Dans le process : un seul détenteur, les autres attendent (Acquire respecte le contexte).
// Entre process : verrou fichier sur le profil navigateur, partagé avec `hue fetch`.
type ResolverLease struct {
	mu     sync.Mutex
	held   bool
	notify chan struct{}

	file      *flock.Flock
	retryWait time.Duration
}

// NewResolverLease crée le bail. lockPath vide = verrou in-process uniquement.
func NewResolverLease(lockPath string) (*ResolverLease, error) {
	l := &ResolverLease{notify: make(chan struct{}), retryWait: 250 * time.Millisecond}
	if lockPath == "" {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	l.file = flock.New(lockPath)
	return l, nil
}

// Held indique si une session est en cours dans ce process.
func (l *ResolverLease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Acquire bloque jusqu'à obtenir le bail. La fonction renvoyée le libère;
// elle est idempotente et doit être appelée sur tous les chemins de sortie.
func (l *ResolverLease) Acquire(ctx context.Context) (func(), error) {
	if err := l.acquireLocal(ctx); err != nil {
		return nil, err
	}
	if l.file != nil {
		ok, err := l.file.TryLockContext(ctx, l.retryWait)
		if err != nil || !ok {
			l.releaseLocal()
			if err == nil {
				err = ctx.Err()
			}
			return nil, fmt.Errorf("acquire resolver lock: %w", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if l.file != nil {
				_ = l.file.Unlock()
			}
			l.releaseLocal()
		})
	}, nil
}

func (l *ResolverLease) acquireLocal(ctx context.Context) error {
	for {
		l.mu.Lock()
		if !l.held {
			l.held = true
			l.mu.Unlock()
			return nil
		}
		ch := l.notify
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (l *ResolverLease) releaseLocal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	// Réveille tous les waiters en fermant le channel et en recréant.
	close(l.notify)
	l.notify = make(chan struct{})
}
