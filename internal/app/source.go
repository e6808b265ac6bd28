package app

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

// SourceLink est un lien "watch?id=X&ep=N" du catalogue source.
type SourceLink struct {
	SeriesID string
	// Episode vaut 0 si le lien n'en précise pas.
	Episode int
}

var reNumericID = regexp.MustCompile(`^\d+$`)

// Hôtes miroirs ramenés au même catalogue.
var sourceHosts = map[string]bool{
	"miruro.to":     true,
	"miruro.tv":     true,
	"miruro.online": true,
	"miruro.bz":     true,
}

// ParseSourceLink valide le lien avant toute interaction réseau.
func ParseSourceLink(raw string) (SourceLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return SourceLink{}, fmt.Errorf("%w: %q is not an absolute url", domain.ErrInvalidReferenceFormat, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return SourceLink{}, fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidReferenceFormat, u.Scheme)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !sourceHosts[host] {
		return SourceLink{}, fmt.Errorf("%w: unsupported host %q", domain.ErrInvalidReferenceFormat, host)
	}

	q := u.Query()
	id := strings.TrimSpace(q.Get("id"))
	if !reNumericID.MatchString(id) {
		return SourceLink{}, fmt.Errorf("%w: missing series id", domain.ErrInvalidReferenceFormat)
	}
	link := SourceLink{SeriesID: id}
	if ep := strings.TrimSpace(q.Get("ep")); ep != "" {
		n, err := strconv.Atoi(ep)
		if err != nil || n <= 0 {
			return SourceLink{}, fmt.Errorf("%w: bad episode %q", domain.ErrInvalidReferenceFormat, ep)
		}
		link.Episode = n
	}
	return link, nil
}

// EpisodeURL construit la page épisode sur l'hôte configuré.
func EpisodeURL(baseURL, seriesID string, episode int) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	q := url.Values{}
	q.Set("id", seriesID)
	q.Set("ep", strconv.Itoa(episode))
	return base + "/watch?" + q.Encode()
}

// ParseEpisodeSpec lit "4" ou "2-5". Vide = épisode du lien.
// La plage est bornée par maxEpisodes.
func ParseEpisodeSpec(spec string, fromLink int, maxEpisodes int) (domain.EpisodeRange, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		if fromLink <= 0 {
			return domain.EpisodeRange{}, fmt.Errorf("%w: no episode in link, give one explicitly", domain.ErrInvalidEpisodeRange)
		}
		return domain.EpisodeRange{From: fromLink, To: fromLink}, nil
	}

	var r domain.EpisodeRange
	if from, to, ok := strings.Cut(spec, "-"); ok {
		a, errA := strconv.Atoi(strings.TrimSpace(from))
		b, errB := strconv.Atoi(strings.TrimSpace(to))
		if errA != nil || errB != nil {
			return r, fmt.Errorf("%w: %q, use start-end (e.g. 1-5)", domain.ErrInvalidEpisodeRange, spec)
		}
		r = domain.EpisodeRange{From: a, To: b}
	} else {
		n, err := strconv.Atoi(spec)
		if err != nil {
			return r, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidEpisodeRange, spec)
		}
		r = domain.EpisodeRange{From: n, To: n}
	}

	if r.From <= 0 || r.To <= 0 {
		return domain.EpisodeRange{}, fmt.Errorf("%w: episode numbers must be positive", domain.ErrInvalidEpisodeRange)
	}
	if r.From > r.To {
		return domain.EpisodeRange{}, fmt.Errorf("%w: start %d is after end %d", domain.ErrInvalidEpisodeRange, r.From, r.To)
	}
	if maxEpisodes > 0 && r.Len() > maxEpisodes {
		return domain.EpisodeRange{}, fmt.Errorf("%w: %d episodes requested, max %d", domain.ErrInvalidEpisodeRange, r.Len(), maxEpisodes)
	}
	return r, nil
}
