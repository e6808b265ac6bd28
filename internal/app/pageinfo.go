package app

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// Selectors regroupe les sélecteurs CSS des trois hops.
// Les sites changent leurs classes générées : tout est surchargeable via la config.
type Selectors struct {
	InfoBlocks    string `toml:"info_blocks"`
	Tags          string `toml:"tags"`
	SeriesTitle   string `toml:"series_title"`
	EpisodeTitle  string `toml:"episode_title"`
	EpisodeNumber string `toml:"episode_number"`
	AiringInfo    string `toml:"airing_info"`
	MALLink       string `toml:"mal_link"`

	ServerGroups   string `toml:"server_groups"`
	ServerButtons  string `toml:"server_buttons"`
	DownloadButton string `toml:"download_button"`

	RedirectLink string `toml:"redirect_link"`

	Popup        string `toml:"popup"`
	Verification string `toml:"verification"`
	DownloadForm string `toml:"download_form"`
	FormToken    string `toml:"form_token"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		InfoBlocks:    "div.t4mg1tz p",
		Tags:          "div.t4mg1tz > div[style*='flex-wrap'] a",
		SeriesTitle:   "div.title.anime-title a",
		EpisodeTitle:  ".title-container .ep-title",
		EpisodeNumber: ".title-container .ep-number",
		AiringInfo:    "div.eb48q8z > p",
		MALLink:       "a[href^='https://myanimelist.net/anime/']",

		ServerGroups:   "div.r1s34uq0 > div",
		ServerButtons:  "button.b1nm6r8",
		DownloadButton: `button[title="Download Episode"]`,

		RedirectLink: "a.redirect",

		Popup:        "#vidmate-popup .close-popup",
		Verification: "button.btn.btn-primary.btn-captcha",
		DownloadForm: "form[action^='https://kwik.si/d/']",
		FormToken:    "input[name='_token']",
	}
}

// SourcePage est ce que le hop 1 expose d'une page épisode.
type SourcePage struct {
	Title  string
	Season int
	Part   int

	EpisodeTitle   string
	CurrentEpisode int

	EpisodesAired int
	EpisodeCount  int

	IsAiring          bool
	NextEpisodeNumber int
	NextEpisodeTime   *time.Time

	Tags  []string
	MALID string
}

// Series convertit les faits de la page en ligne Catalog.
func (p SourcePage) Series(key domain.SeriesKey, now time.Time) domain.Series {
	return domain.Series{
		Key:               key,
		Title:             p.Title,
		Season:            p.Season,
		Part:              p.Part,
		EpisodesAired:     p.EpisodesAired,
		EpisodeCount:      p.EpisodeCount,
		NextEpisodeNumber: p.NextEpisodeNumber,
		NextEpisodeTime:   p.NextEpisodeTime,
		IsAiring:          p.IsAiring,
		LastChecked:       now,
	}.Normalize()
}

// PageReader isole le scraping du hop 1 de la navigation.
type PageReader struct {
	Sel Selectors
	// Fuseau des horaires de diffusion quand la page n'annonce pas UTC/GMT.
	Location *time.Location
	Now      func() time.Time
}

func (r PageReader) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Read extrait les faits de la page. Tout élément manquant est transitoire :
// la page n'a peut-être pas fini son rendu.
func (r PageReader) Read(ctx context.Context, page ports.Page) (SourcePage, error) {
	var out SourcePage

	blocks, err := page.Texts(ctx, r.Sel.InfoBlocks)
	if err != nil {
		return out, transient("read info blocks", err)
	}
	aired, total, ok := ParseEpisodeCounts(blocks)
	if !ok {
		return out, transient("episode counts not found", nil)
	}
	out.EpisodesAired, out.EpisodeCount = aired, total
	out.IsAiring = ParseAiringStatus(blocks)

	titles, err := page.Texts(ctx, r.Sel.SeriesTitle)
	if err != nil || len(titles) == 0 || strings.TrimSpace(titles[0]) == "" {
		return out, transient("series title not found", err)
	}
	out.Title, out.Season, out.Part = SplitSeriesTitle(titles[0])

	numbers, err := page.Texts(ctx, r.Sel.EpisodeNumber)
	if err != nil || len(numbers) == 0 {
		return out, transient("episode number not found", err)
	}
	n, ok := firstInt(numbers[0])
	if !ok {
		return out, transient(fmt.Sprintf("unreadable episode number %q", numbers[0]), nil)
	}
	out.CurrentEpisode = n

	if epTitles, err := page.Texts(ctx, r.Sel.EpisodeTitle); err == nil && len(epTitles) > 0 {
		out.EpisodeTitle = strings.TrimSpace(epTitles[0])
	}

	if tags, err := page.Texts(ctx, r.Sel.Tags); err == nil {
		for _, t := range tags {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				out.Tags = append(out.Tags, t)
			}
		}
	}

	if hrefs, err := page.Attrs(ctx, r.Sel.MALLink, "href"); err == nil && len(hrefs) > 0 {
		out.MALID = ParseMALID(hrefs[0])
	}

	if !out.IsAiring {
		// Série terminée : tout est sorti.
		out.EpisodeCount = out.EpisodesAired
		return out, nil
	}

	out.NextEpisodeNumber = out.EpisodesAired + 1
	next := r.now().Add(24 * time.Hour)
	if texts, err := page.Texts(ctx, r.Sel.AiringInfo); err == nil && len(texts) > 0 {
		if num, at, ok := ParseNextAiring(texts[0], r.Location); ok {
			out.NextEpisodeNumber = num
			next = at
		}
	}
	out.NextEpisodeTime = &next
	if out.EpisodeCount < out.NextEpisodeNumber {
		out.EpisodeCount = out.NextEpisodeNumber
	}
	return out, nil
}

func transient(msg string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrResolverTransient, msg, err)
	}
	return fmt.Errorf("%w: %s", domain.ErrResolverTransient, msg)
}

var (
	episodeCountsRe = regexp.MustCompile(`Episodes:\s*([\d,]+)(?:\s*/\s*([\d,]+))?`)
	nextAiringRe    = regexp.MustCompile(`Episode (\d+)\s+will air on\s+(\w{3} \w{3} \d{1,2}), (\d{4}), (\d{2}:\d{2}) ([A-Z]+)`)
	seriesTitleRe   = regexp.MustCompile(`(?i)^(.*?)(?:\s+Season\s+(\d+))?(?:\s+(?:Part|Cour)\s*(\d+))?$`)
	unsafePathRe    = regexp.MustCompile(`[<>:"/\\|?*]`)
	malIDRe         = regexp.MustCompile(`myanimelist\.net/anime/(\d+)`)
	digitsRe        = regexp.MustCompile(`\d+`)
)

// ParseEpisodeCounts lit "Episodes: 3 / 12". Sans total, on suppose aired+2.
func ParseEpisodeCounts(blocks []string) (aired, total int, ok bool) {
	for _, b := range blocks {
		m := episodeCountsRe.FindStringSubmatch(b)
		if m == nil {
			continue
		}
		aired, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		total = aired + 2
		if m[2] != "" {
			if v, err := strconv.Atoi(strings.ReplaceAll(m[2], ",", "")); err == nil {
				total = v
			}
		}
		if total < aired {
			total = aired
		}
		return aired, total, true
	}
	return 0, 0, false
}

// ParseAiringStatus cherche la ligne "Status: ...".
func ParseAiringStatus(blocks []string) bool {
	for _, b := range blocks {
		text := strings.ToLower(strings.TrimSpace(b))
		if !strings.HasPrefix(text, "status:") {
			continue
		}
		if strings.Contains(text, "finished") {
			return false
		}
		return strings.Contains(text, "airing") || strings.Contains(text, "releasing")
	}
	return false
}

// ParseNextAiring lit "Episode 5 will air on Sat Oct 25, 2026, 15:30 UTC".
// Les zones autres que UTC/GMT sont interprétées dans loc (heure locale si nil).
func ParseNextAiring(text string, loc *time.Location) (int, time.Time, bool) {
	m := nextAiringRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, time.Time{}, false
	}
	num, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, time.Time{}, false
	}
	zone := loc
	if zone == nil {
		zone = time.Local
	}
	if m[5] == "UTC" || m[5] == "GMT" {
		zone = time.UTC
	}
	at, err := time.ParseInLocation("Mon Jan 2 2006 15:04", m[2]+" "+m[3]+" "+m[4], zone)
	if err != nil {
		return 0, time.Time{}, false
	}
	return num, at.UTC(), true
}

// SplitSeriesTitle sépare "Title Season 2 Part 2" en ("Title", 2, 2).
// Le titre est nettoyé des caractères interdits dans un nom de dossier.
func SplitSeriesTitle(raw string) (title string, season, part int) {
	raw = strings.TrimSpace(raw)
	season = 1
	title = raw
	if m := seriesTitleRe.FindStringSubmatch(raw); m != nil {
		title = strings.TrimSpace(m[1])
		if m[2] != "" {
			season, _ = strconv.Atoi(m[2])
		}
		if m[3] != "" {
			part, _ = strconv.Atoi(m[3])
		}
	}
	if title == "" {
		title = raw
	}
	if season <= 0 {
		season = 1
	}
	return SanitizeTitle(title), season, part
}

func SanitizeTitle(s string) string {
	return strings.TrimSpace(unsafePathRe.ReplaceAllString(s, ""))
}

func ParseMALID(href string) string {
	if m := malIDRe.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

func firstInt(s string) (int, bool) {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

// CheckEpisodeBounds valide n contre la saison. La marge "aired+1" couvre
// les compteurs en retard d'un épisode.
func CheckEpisodeBounds(n, aired, total int) error {
	if n < 1 || n > total {
		return fmt.Errorf("%w: episode %d, season has %d", domain.ErrEpisodeOutOfBounds, n, total)
	}
	if n > aired+1 {
		return fmt.Errorf("%w: episode %d, %d aired", domain.ErrEpisodeNotYetAired, n, aired)
	}
	return nil
}

// ContentPolicy bloque une série portant un tag interdit, sauf titre autorisé.
type ContentPolicy struct {
	Enabled     bool
	BlockedTags []string
	AllowTitles []string
}

func PolicyFromSettings(s domain.Settings) ContentPolicy {
	return ContentPolicy{Enabled: s.BanNSFW, BlockedTags: s.BlockedTags, AllowTitles: s.AllowTitles}
}

// Check renvoie ErrContentPolicyBlocked avec le tag fautif.
func (p ContentPolicy) Check(title string, tags []string) error {
	if !p.Enabled || len(p.BlockedTags) == 0 {
		return nil
	}
	key := foldTitle(title)
	for _, allowed := range p.AllowTitles {
		if a := foldTitle(allowed); a != "" && strings.Contains(key, a) {
			return nil
		}
	}
	for _, tag := range tags {
		for _, blocked := range p.BlockedTags {
			if strings.EqualFold(strings.TrimSpace(tag), strings.TrimSpace(blocked)) {
				return fmt.Errorf("%w: tag %s", domain.ErrContentPolicyBlocked, strings.ToUpper(blocked))
			}
		}
	}
	return nil
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// foldTitle : minuscules, sans espaces ni accents ("Mushoku Tensei" -> "mushokutensei").
func foldTitle(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), "")
}
