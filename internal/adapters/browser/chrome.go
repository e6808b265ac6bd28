package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// Options décrit le navigateur piloté. Le profil doit déjà contenir l'extension
// de blocage installée: elle est indispensable au passage du hop 2.
type Options struct {
	ProfileDir   string
	ExtensionDir string
	ExecPath     string
	Headless     bool
	DownloadDir  string
}

// Chrome implémente ports.Browser avec chromedp. Chaque Open démarre un
// process sur le profil persistant; l'appelant sérialise via le bail.
type Chrome struct {
	logger zerolog.Logger
	opts   Options
}

func New(logger zerolog.Logger, opts Options) *Chrome {
	return &Chrome{logger: logger, opts: opts}
}

// flags renvoie les flags Chrome à ajouter aux options par défaut de chromedp.
func (c *Chrome) flags() map[string]any {
	f := map[string]any{
		"headless":               false,
		"disable-blink-features": "AutomationControlled",
		"no-first-run":           true,
		"disable-features":       "DownloadBubble",
	}
	if c.opts.Headless {
		f["headless"] = "new"
	}
	if dir := strings.TrimSpace(c.opts.ExtensionDir); dir != "" {
		f["disable-extensions-except"] = dir
		f["load-extension"] = dir
	}
	return f
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+10)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	// Les options par défaut désactivent les extensions.
	opts = append(opts, chromedp.Flag("disable-extensions", false))
	for k, v := range c.flags() {
		opts = append(opts, chromedp.Flag(k, v))
	}
	if c.opts.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.opts.ProfileDir))
	}
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	return opts
}

func (c *Chrome) Open(ctx context.Context) (ports.Page, error) {
	if c.opts.ProfileDir != "" {
		if err := os.MkdirAll(c.opts.ProfileDir, 0o755); err != nil {
			return nil, fmt.Errorf("create profile dir: %w", err)
		}
	}
	downloads := c.opts.DownloadDir
	if downloads == "" {
		downloads = filepath.Join(os.TempDir(), "hue-downloads")
	}
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	// Le process vit jusqu'à Page.Close, indépendamment du ctx de l'appel.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), c.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			c.logger.Debug().Msgf(format, args...)
		}),
	)

	p := &Page{
		logger:    c.logger,
		ctx:       tabCtx,
		downloads: downloads,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}
	// Premier Run: démarre le process et attache l'onglet.
	if err := p.run(ctx); err != nil {
		p.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	c.logger.Debug().Str("profile", c.opts.ProfileDir).Bool("headless", c.opts.Headless).Msg("browser session opened")
	return p, nil
}
