package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// Page est un onglet chromedp. Les sélecteurs sont évalués côté page via
// querySelectorAll pour garder la sémantique "n-ième élément".
type Page struct {
	logger    zerolog.Logger
	ctx       context.Context
	cancel    func()
	downloads string

	closeOnce sync.Once
}

// run exécute les actions dans l'onglet en respectant aussi l'annulation de ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *Page) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := p.run(ctx, chromedp.Evaluate(countJS(selector), &n))
	return n, err
}

func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	var out []string
	err := p.run(ctx, chromedp.Evaluate(textsJS(selector), &out))
	return out, err
}

func (p *Page) Attrs(ctx context.Context, selector, name string) ([]string, error) {
	var out []string
	err := p.run(ctx, chromedp.Evaluate(attrsJS(selector, name), &out))
	return out, err
}

func (p *Page) Click(ctx context.Context, selector string, index int) error {
	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(clickJS(selector, index), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element %q at index %d", selector, index)
	}
	return nil
}

func (p *Page) ClickForNewPage(ctx context.Context, selector string, timeout time.Duration) (ports.Page, error) {
	ch := chromedp.WaitNewTarget(p.ctx, func(info *target.Info) bool {
		return info.Type == "page"
	})
	if err := p.Click(ctx, selector, 0); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("no new tab after %s", timeout)
	case id := <-ch:
		tabCtx, cancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
		tab := &Page{logger: p.logger, ctx: tabCtx, cancel: cancel, downloads: p.downloads}
		if err := tab.run(ctx); err != nil {
			cancel()
			return nil, fmt.Errorf("attach new tab: %w", err)
		}
		return tab, nil
	}
}

// SubmitForDownload poste le formulaire depuis la page (cookies et referer
// conservés) et attend la fin du téléchargement dans le dossier temporaire.
func (p *Page) SubmitForDownload(ctx context.Context, action string, fields map[string]string, timeout time.Duration) (ports.Download, error) {
	dir, err := os.MkdirTemp(p.downloads, "dl-")
	if err != nil {
		return ports.Download{}, fmt.Errorf("create download dir: %w", err)
	}

	type started struct{ guid, name string }
	begin := make(chan started, 1)
	done := make(chan string, 1)
	failed := make(chan string, 1)

	lctx, stopListen := context.WithCancel(p.ctx)
	defer stopListen()
	chromedp.ListenTarget(lctx, func(ev any) {
		switch e := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			select {
			case begin <- started{guid: e.GUID, name: e.SuggestedFilename}:
			default:
			}
		case *cdpbrowser.EventDownloadProgress:
			switch e.State {
			case cdpbrowser.DownloadProgressStateCompleted:
				select {
				case done <- e.GUID:
				default:
				}
			case cdpbrowser.DownloadProgressStateCanceled:
				select {
				case failed <- e.GUID:
				default:
				}
			}
		}
	})

	setup := cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
		WithDownloadPath(dir).
		WithEventsEnabled(true)
	var submitted bool
	if err := p.run(ctx, setup, chromedp.Evaluate(submitJS(action, fields), &submitted)); err != nil {
		_ = os.RemoveAll(dir)
		return ports.Download{}, fmt.Errorf("submit form: %w", err)
	}
	if !submitted {
		_ = os.RemoveAll(dir)
		return ports.Download{}, errors.New("submit form: document has no body")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var dl started
	for {
		select {
		case <-ctx.Done():
			_ = os.RemoveAll(dir)
			return ports.Download{}, ctx.Err()
		case <-timer.C:
			_ = os.RemoveAll(dir)
			if dl.guid == "" {
				return ports.Download{}, fmt.Errorf("download did not start within %s", timeout)
			}
			return ports.Download{}, fmt.Errorf("download %s not finished within %s", dl.name, timeout)
		case dl = <-begin:
			p.logger.Debug().Str("file", dl.name).Msg("download started")
		case <-failed:
			_ = os.RemoveAll(dir)
			return ports.Download{}, errors.New("download canceled by browser")
		case guid := <-done:
			path := filepath.Join(dir, guid)
			info, err := os.Stat(path)
			if err != nil {
				return ports.Download{}, fmt.Errorf("downloaded file: %w", err)
			}
			p.logger.Debug().Str("file", dl.name).Str("size", humanize.Bytes(uint64(info.Size()))).Msg("download finished")
			return ports.Download{Path: path, SuggestedName: dl.name, Size: info.Size()}, nil
		}
	}
}

// Close ferme l'onglet (et le navigateur pour l'onglet racine).
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	return nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func countJS(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
}

func textsJS(selector string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s), e => (e.innerText || "").trim())`, jsString(selector))
}

func attrsJS(selector, name string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s), e => e.getAttribute(%s) || "")`, jsString(selector), jsString(name))
}

func clickJS(selector string, index int) string {
	return fmt.Sprintf(`(() => {
	const els = document.querySelectorAll(%s);
	if (%d >= els.length) return false;
	els[%d].scrollIntoView({block: "center"});
	els[%d].click();
	return true;
})()`, jsString(selector), index, index, index)
}

func submitJS(action string, fields map[string]string) string {
	b, _ := json.Marshal(fields)
	return fmt.Sprintf(`(() => {
	if (!document.body) return false;
	const f = document.createElement("form");
	f.method = "POST";
	f.action = %s;
	f.style.display = "none";
	for (const [k, v] of Object.entries(%s)) {
		const i = document.createElement("input");
		i.type = "hidden";
		i.name = k;
		i.value = v;
		f.appendChild(i);
	}
	document.body.appendChild(f);
	f.submit();
	return true;
})()`, jsString(action), string(b))
}
