package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

type testStore struct {
	series   *sqlite.SeriesRepository
	follows  *sqlite.FollowsRepository
	jobs     *sqlite.JobsRepository
	settings *sqlite.SettingsRepository
}

func newTestStore(t *testing.T, settings domain.Settings) testStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return testStore{
		series:   sqlite.NewSeriesRepository(db.SQL),
		follows:  sqlite.NewFollowsRepository(db.SQL),
		jobs:     sqlite.NewJobsRepository(db.SQL),
		settings: sqlite.NewSettingsRepository(db.SQL, settings),
	}
}

func testSettings(t *testing.T) domain.Settings {
	s := domain.DefaultSettings()
	s.OutputDir = t.TempDir()
	s.RetryDelaySeconds = 0
	s.PreferredServer = ""
	return s
}

// fakePage rejoue une page scriptée : texte et attributs par sélecteur.
type fakePage struct {
	mu sync.Mutex

	texts  map[string][]string
	attrs  map[string][]string // clé: sélecteur + "@" + attribut
	counts map[string]int

	// onNavigate remplace le contenu de la page à chaque navigation (hop 3).
	onNavigate func(p *fakePage, url string)

	newTab    *fakePage
	tabOpened bool
	navigated []string
	clicks    []string

	submitErrs []error
	submits    int
	reloads    int
	download   ports.Download
	closed     bool
}

func newFakePage() *fakePage {
	return &fakePage{texts: map[string][]string{}, attrs: map[string][]string{}, counts: map[string]int{}}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	hook := p.onNavigate
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return ctx.Err()
}

func (p *fakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return ctx.Err()
}

func (p *fakePage) Count(ctx context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.counts[selector]; ok {
		return n, nil
	}
	return len(p.texts[selector]), nil
}

func (p *fakePage) Texts(ctx context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts[selector]...), nil
}

func (p *fakePage) Attrs(ctx context.Context, selector, name string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.attrs[selector+"@"+name]...), nil
}

func (p *fakePage) Click(ctx context.Context, selector string, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) ClickForNewPage(ctx context.Context, selector string, timeout time.Duration) (ports.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tabOpened = true
	if p.newTab == nil {
		return nil, errors.New("no tab")
	}
	return p.newTab, nil
}

func (p *fakePage) SubmitForDownload(ctx context.Context, action string, fields map[string]string, timeout time.Duration) (ports.Download, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.submits
	p.submits++
	if i < len(p.submitErrs) && p.submitErrs[i] != nil {
		return ports.Download{}, p.submitErrs[i]
	}
	return p.download, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeBrowser struct {
	page *fakePage
	err  error
}

func (b fakeBrowser) Open(ctx context.Context) (ports.Page, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.page, nil
}

// resolverFunc adapte une fonction à EpisodeResolver.
type resolverFunc func(ctx context.Context, req ResolveRequest) (Resolution, error)

func (f resolverFunc) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	return f(ctx, req)
}

// savingResolver simule un resolver réussi : il indexe la série et écrit le fichier.
func savingResolver(t *testing.T, store testStore, s domain.Series, calls *int) resolverFunc {
	var mu sync.Mutex
	return func(ctx context.Context, req ResolveRequest) (Resolution, error) {
		mu.Lock()
		*calls++
		mu.Unlock()

		series, err := store.series.UpsertSeries(ctx, s)
		if err != nil {
			return Resolution{}, err
		}
		ep := domain.Episode{Series: s.Key, Season: series.Season, Number: req.Ref.Episode}
		if err := store.series.UpsertEpisode(ctx, ep); err != nil {
			return Resolution{}, err
		}
		res := Resolution{Series: series, Episode: ep, FileNumber: req.Ref.Episode}
		if req.MetadataOnly {
			res.Kind = ResolutionSkipped
			res.Reason = "follow"
			return res, nil
		}
		path := filepath.Join(SeasonDir(req.Settings.OutputDir, series), EpisodeFileBase(series, req.Ref.Episode)+".mp4")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Errorf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
			t.Errorf("write: %v", err)
		}
		res.Kind = ResolutionResolved
		res.Path = path
		res.Size = 5
		return res, nil
	}
}

func newTestAcquirer(t *testing.T, store testStore, resolver EpisodeResolver) *Acquirer {
	t.Helper()
	lease, err := NewResolverLease("")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	return NewAcquirer(zerolog.Nop(), lease, resolver, store.series, store.settings, memorybus.New())
}

type sentNotification struct {
	Subscriber   string
	Announcement ports.Announcement
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	fail map[string]bool
}

func (n *fakeNotifier) Notify(ctx context.Context, subscriberID string, a ports.Announcement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[subscriberID] {
		return errors.New("dm closed")
	}
	n.sent = append(n.sent, sentNotification{Subscriber: subscriberID, Announcement: a})
	return nil
}

type fakeLibrary struct {
	mu    sync.Mutex
	calls int
}

func (l *fakeLibrary) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil
}

// scriptedAttempter renvoie un Outcome fixé par épisode (Success par défaut).
type scriptedAttempter struct {
	mu       sync.Mutex
	outcomes map[int]domain.Outcome
	series   domain.Series
	calls    []domain.Reference
	metadata int
}

func (a *scriptedAttempter) Attempt(ctx context.Context, ref domain.Reference, opts AcquireOptions) (AcquireResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if opts.MetadataOnly {
		a.metadata++
	} else {
		a.calls = append(a.calls, ref)
	}
	out := domain.OutcomeSuccess
	if o, ok := a.outcomes[ref.Episode]; ok {
		out = o
	}
	if opts.MetadataOnly && out == domain.OutcomeSuccess {
		out = domain.OutcomeSkipped
	}
	res := AcquireResult{Ref: ref, Episode: ref.Episode, Outcome: out, Attempts: 1, Series: a.series}
	if out.Terminal() {
		res.Reason = "scripted " + string(out)
	}
	return res, nil
}

func (a *scriptedAttempter) episodes() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.calls))
	for _, r := range a.calls {
		out = append(out, r.Episode)
	}
	return out
}
