package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// ResolverOptions règle les trois hops. Les durées viennent de la config.
type ResolverOptions struct {
	SourceBaseURL string
	// Préfixe du lien attendu sur la page intermédiaire (hop 2 -> hop 3).
	AssetLinkPrefix string
	Selectors       Selectors
	Location        *time.Location

	PageSettle       time.Duration
	ServerSwitch     time.Duration
	DownloadButton   PollSpec
	NewTabTimeout    time.Duration
	RedirectPoll     PollSpec
	AssetSettle      time.Duration
	PopupPause       time.Duration
	VerifyPause      time.Duration
	FormPoll         PollSpec
	SubmitTimeout    time.Duration
	SubmitAttempts   int
	SubmitReloadWait time.Duration
}

func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		SourceBaseURL:    "https://www.miruro.to",
		AssetLinkPrefix:  "https://kwik.si/f/",
		Selectors:        DefaultSelectors(),
		PageSettle:       5 * time.Second,
		ServerSwitch:     1500 * time.Millisecond,
		DownloadButton:   PollSpec{Interval: time.Second, Attempts: 15},
		NewTabTimeout:    15 * time.Second,
		RedirectPoll:     PollSpec{Interval: time.Second, Attempts: 30},
		AssetSettle:      3 * time.Second,
		PopupPause:       2 * time.Second,
		VerifyPause:      4 * time.Second,
		FormPoll:         PollSpec{Interval: time.Second, Attempts: 15},
		SubmitTimeout:    10 * time.Minute,
		SubmitAttempts:   3,
		SubmitReloadWait: 3 * time.Second,
	}
}

type ResolveRequest struct {
	Ref domain.Reference
	// MetadataOnly : passage "follow", on capture le catalogue sans transfert.
	MetadataOnly bool
	Settings     domain.Settings
}

type ResolutionKind string

const (
	ResolutionResolved ResolutionKind = "resolved"
	ResolutionSkipped  ResolutionKind = "skipped"
)

// Resolution est le résultat d'un passage réussi du resolver.
// Les échecs sont des erreurs typées (domain.Err*).
type Resolution struct {
	Kind    ResolutionKind
	Reason  string
	Series  domain.Series
	Episode domain.Episode
	// Numéro utilisé dans le nom de fichier (décalé pour les parts > 1).
	FileNumber int
	Path       string
	Size       int64
}

// EpisodeResolver est le contrat utilisé par l'Acquirer.
type EpisodeResolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (Resolution, error)
}

// Resolver pilote le navigateur : page catalogue -> page de redirection -> hébergeur.
// Il n'écrit dans le Catalog que les métadonnées découvertes.
type Resolver struct {
	logger   zerolog.Logger
	browser  ports.Browser
	series   ports.SeriesRepository
	metadata ports.MetadataEnricher
	opts     ResolverOptions
	now      func() time.Time
}

func NewResolver(logger zerolog.Logger, browser ports.Browser, series ports.SeriesRepository, metadata ports.MetadataEnricher, opts ResolverOptions) *Resolver {
	def := DefaultResolverOptions()
	if opts.SourceBaseURL == "" {
		opts.SourceBaseURL = def.SourceBaseURL
	}
	if opts.AssetLinkPrefix == "" {
		opts.AssetLinkPrefix = def.AssetLinkPrefix
	}
	if opts.Selectors == (Selectors{}) {
		opts.Selectors = def.Selectors
	}
	if opts.SubmitAttempts <= 0 {
		opts.SubmitAttempts = 1
	}
	return &Resolver{logger: logger, browser: browser, series: series, metadata: metadata, opts: opts, now: time.Now}
}

func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (res Resolution, err error) {
	ref := req.Ref
	log := r.logger.With().Str("ref", ref.String()).Logger()

	page, err := r.browser.Open(ctx)
	if err != nil {
		return res, r.classify(ctx, fmt.Errorf("open browser: %w", err))
	}
	defer func() { _ = page.Close() }()

	// Hop 1 : page catalogue.
	if err := page.Navigate(ctx, EpisodeURL(r.opts.SourceBaseURL, ref.SeriesID, ref.Episode)); err != nil {
		return res, r.classify(ctx, fmt.Errorf("open source page: %w", err))
	}
	if err := sleepCtx(ctx, r.opts.PageSettle); err != nil {
		return res, err
	}

	reader := PageReader{Sel: r.opts.Selectors, Location: r.opts.Location, Now: r.now}
	facts, err := reader.Read(ctx, page)
	if err != nil {
		return res, r.classify(ctx, err)
	}
	if err := CheckEpisodeBounds(ref.Episode, facts.EpisodesAired, facts.EpisodeCount); err != nil {
		return res, err
	}
	if facts.CurrentEpisode != ref.Episode {
		// La page retombe parfois sur l'épisode 1.
		return res, transient(fmt.Sprintf("page shows episode %d, want %d", facts.CurrentEpisode, ref.Episode), nil)
	}

	if err := PolicyFromSettings(req.Settings).Check(facts.Title, facts.Tags); err != nil {
		log.Warn().Strs("tags", facts.Tags).Msg("series blocked by content policy")
		return res, err
	}

	series, err := r.series.UpsertSeries(ctx, facts.Series(ref.Key(), r.now()))
	if err != nil {
		return res, err
	}
	episode := domain.Episode{Series: ref.Key(), Season: series.Season, Number: ref.Episode, Title: facts.EpisodeTitle}
	if err := r.series.UpsertEpisode(ctx, episode); err != nil {
		return res, err
	}
	offset, err := r.series.PartOffset(ctx, series)
	if err != nil {
		return res, errors.Join(domain.ErrStoragePersistence, err)
	}
	res = Resolution{Series: series, Episode: episode, FileNumber: offset + ref.Episode}
	log.Info().Str("title", series.Title).Int("season", series.Season).
		Int("aired", series.EpisodesAired).Int("total", series.EpisodeCount).
		Bool("airing", series.IsAiring).Msg("source page read")

	r.enrich(ctx, log, req.Settings.OutputDir, res, facts.MALID)

	if req.MetadataOnly {
		res.Kind = ResolutionSkipped
		res.Reason = "follow"
		return res, nil
	}

	if err := r.ensureServer(ctx, page, ref.Variant, req.Settings.PreferredServer); err != nil {
		return res, r.classify(ctx, err)
	}

	// Hop 2 : la page de redirection s'ouvre dans un nouvel onglet.
	assetLink, err := r.redirectLink(ctx, page)
	if err != nil {
		return res, r.classify(ctx, err)
	}
	log.Debug().Str("link", assetLink).Msg("asset host link captured")

	// Hop 3 : hébergeur final.
	dl, err := r.fetchAsset(ctx, page, assetLink)
	if err != nil {
		return res, r.classify(ctx, err)
	}

	ext := strings.ToLower(filepath.Ext(dl.SuggestedName))
	if ext == "" || len(ext) > 5 {
		ext = ".mp4"
	}
	dst := filepath.Join(SeasonDir(req.Settings.OutputDir, series), EpisodeFileBase(series, res.FileNumber)+ext)
	if err := moveFile(dl.Path, dst); err != nil {
		_ = os.RemoveAll(filepath.Dir(dl.Path))
		return res, errors.Join(domain.ErrStoragePersistence, fmt.Errorf("save %s: %w", dst, err))
	}
	// dossier de capture, vide après le déplacement
	_ = os.Remove(filepath.Dir(dl.Path))

	res.Kind = ResolutionResolved
	res.Path = dst
	res.Size = dl.Size
	log.Info().Str("path", dst).Int64("size", dl.Size).Msg("episode saved")
	return res, nil
}

func (r *Resolver) enrich(ctx context.Context, log zerolog.Logger, outDir string, res Resolution, malID string) {
	if r.metadata == nil {
		return
	}
	err := r.metadata.Enrich(ctx, ports.MetadataRequest{
		Series:     res.Series,
		Episode:    res.Episode,
		FileNumber: res.FileNumber,
		MALID:      malID,
		SeriesDir:  SeriesDir(outDir, res.Series),
		SeasonDir:  SeasonDir(outDir, res.Series),
	})
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("metadata sidecars not written")
	}
}

// ensureServer active le serveur voulu dans la section sub/dub.
func (r *Resolver) ensureServer(ctx context.Context, page ports.Page, variant domain.Variant, server string) error {
	sel := r.opts.Selectors
	server = strings.ToLower(strings.TrimSpace(server))
	if server == "" {
		return nil
	}

	groups, err := page.Count(ctx, sel.ServerGroups)
	if err != nil {
		return transient("count server groups", err)
	}
	for i := 1; i <= groups; i++ {
		group := fmt.Sprintf("%s:nth-child(%d)", sel.ServerGroups, i)
		labels, err := page.Texts(ctx, group+" > div:first-child")
		if err != nil || len(labels) == 0 || !strings.Contains(strings.ToLower(labels[0]), string(variant)) {
			continue
		}

		buttons := group + " " + sel.ServerButtons
		names, err := page.Texts(ctx, buttons)
		if err != nil {
			return transient("read server buttons", err)
		}
		classes, _ := page.Attrs(ctx, buttons, "class")
		for idx, name := range names {
			if !strings.Contains(strings.ToLower(name), server) {
				continue
			}
			if idx < len(classes) && strings.Contains(classes[idx], "active") {
				return nil
			}
			r.logger.Debug().Str("server", server).Str("variant", string(variant)).Msg("switching server")
			if err := page.Click(ctx, buttons, idx); err != nil {
				return transient("select server", err)
			}
			return sleepCtx(ctx, r.opts.ServerSwitch)
		}
		return transient(fmt.Sprintf("server %q not offered for %s", server, variant), nil)
	}
	return transient(fmt.Sprintf("no %s section with server %q", variant, server), nil)
}

func (r *Resolver) redirectLink(ctx context.Context, page ports.Page) (string, error) {
	sel := r.opts.Selectors
	err := WaitUntil(ctx, r.opts.DownloadButton, "download button", func(ctx context.Context) (bool, error) {
		n, err := page.Count(ctx, sel.DownloadButton)
		return n > 0, err
	})
	if err != nil {
		return "", err
	}

	tab, err := page.ClickForNewPage(ctx, sel.DownloadButton, r.opts.NewTabTimeout)
	if err != nil {
		return "", transient("redirect tab did not open", err)
	}
	defer func() { _ = tab.Close() }()

	var link string
	err = WaitUntil(ctx, r.opts.RedirectPoll, "redirect link", func(ctx context.Context) (bool, error) {
		hrefs, err := tab.Attrs(ctx, sel.RedirectLink, "href")
		if err != nil {
			return false, err
		}
		for _, h := range hrefs {
			if strings.HasPrefix(h, r.opts.AssetLinkPrefix) {
				link = h
				return true, nil
			}
		}
		return false, nil
	})
	return link, err
}

func (r *Resolver) fetchAsset(ctx context.Context, page ports.Page, link string) (ports.Download, error) {
	sel := r.opts.Selectors
	if err := page.Navigate(ctx, link); err != nil {
		return ports.Download{}, transient("open asset host", err)
	}
	if err := sleepCtx(ctx, r.opts.AssetSettle); err != nil {
		return ports.Download{}, err
	}

	// Obstacles optionnels : overlay puis vérification humaine.
	if err := r.clickIfPresent(ctx, page, sel.Popup, r.opts.PopupPause); err != nil {
		return ports.Download{}, err
	}
	if err := r.clickIfPresent(ctx, page, sel.Verification, r.opts.VerifyPause); err != nil {
		return ports.Download{}, err
	}

	var action string
	err := WaitUntil(ctx, r.opts.FormPoll, "download form", func(ctx context.Context) (bool, error) {
		actions, err := page.Attrs(ctx, sel.DownloadForm, "action")
		if err != nil || len(actions) == 0 || actions[0] == "" {
			return false, err
		}
		action = actions[0]
		return true, nil
	})
	if err != nil {
		return ports.Download{}, err
	}
	tokens, err := page.Attrs(ctx, sel.FormToken, "value")
	if err != nil || len(tokens) == 0 || tokens[0] == "" {
		return ports.Download{}, transient("anti-forgery token not found", err)
	}

	var lastErr error
	for i := 1; i <= r.opts.SubmitAttempts; i++ {
		dl, err := page.SubmitForDownload(ctx, action, map[string]string{"_token": tokens[0]}, r.opts.SubmitTimeout)
		if err == nil {
			return dl, nil
		}
		if ctx.Err() != nil {
			return ports.Download{}, ctx.Err()
		}
		lastErr = err
		r.logger.Warn().Err(err).Int("attempt", i).Msg("form submission failed")
		if i < r.opts.SubmitAttempts {
			if err := page.Reload(ctx); err != nil {
				lastErr = err
				continue
			}
			if err := sleepCtx(ctx, r.opts.SubmitReloadWait); err != nil {
				return ports.Download{}, err
			}
		}
	}
	return ports.Download{}, transient("download did not start", lastErr)
}

func (r *Resolver) clickIfPresent(ctx context.Context, page ports.Page, selector string, pause time.Duration) error {
	n, err := page.Count(ctx, selector)
	if err != nil || n == 0 {
		return ctx.Err()
	}
	if err := page.Click(ctx, selector, 0); err != nil {
		r.logger.Debug().Err(err).Str("selector", selector).Msg("obstacle click failed")
		return ctx.Err()
	}
	return sleepCtx(ctx, pause)
}

// classify ramène toute erreur non typée au cas transitoire.
func (r *Resolver) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	for _, known := range []error{
		domain.ErrResolverTransient,
		domain.ErrContentPolicyBlocked,
		domain.ErrEpisodeOutOfBounds,
		domain.ErrEpisodeNotYetAired,
		domain.ErrStoragePersistence,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrResolverTransient, err)
}
