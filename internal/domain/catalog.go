package domain

import (
	"fmt"
	"strings"
	"time"
)

// Variant distingue la version sous-titrée de la version doublée.
// Chaque variante a sa propre ligne Series.
type Variant string

const (
	VariantSub Variant = "sub"
	VariantDub Variant = "dub"
)

func ParseVariant(dub bool) Variant {
	if dub {
		return VariantDub
	}
	return VariantSub
}

func (v Variant) Valid() bool {
	return v == VariantSub || v == VariantDub
}

// SeriesKey identifie une ligne Series: id du catalogue source + variante.
type SeriesKey struct {
	SourceID string
	Variant  Variant
}

func (k SeriesKey) String() string {
	return k.SourceID + "/" + string(k.Variant)
}

type Series struct {
	Key SeriesKey

	Title  string
	Season int
	// Part > 1 pour une saison découpée ("Part 2", "Cour 2"); 0 sinon.
	Part int

	EpisodesAired int
	EpisodeCount  int

	NextEpisodeNumber int
	NextEpisodeTime   *time.Time
	IsAiring          bool

	DownloadFailed bool
	LastChecked    time.Time
}

// Normalize applique les invariants de la ligne:
// next_episode_time nul ssi la série n'est pas en diffusion, episode_count >= episodes_aired.
func (s Series) Normalize() Series {
	if s.Season <= 0 {
		s.Season = 1
	}
	if s.EpisodesAired < 0 {
		s.EpisodesAired = 0
	}
	if s.EpisodeCount < s.EpisodesAired {
		s.EpisodeCount = s.EpisodesAired
	}
	if !s.IsAiring {
		s.NextEpisodeTime = nil
		s.NextEpisodeNumber = 0
	} else if s.NextEpisodeTime == nil {
		s.IsAiring = false
		s.NextEpisodeNumber = 0
	}
	return s
}

// DisplayTitle est le titre utilisé pour les chemins et les notifications.
func (s Series) DisplayTitle() string {
	if s.Key.Variant == VariantDub && !strings.HasSuffix(s.Title, " (Dubbed)") {
		return s.Title + " (Dubbed)"
	}
	return s.Title
}

type Episode struct {
	Series     SeriesKey
	Season     int
	Number     int
	Title      string
	Downloaded bool
}

type Follow struct {
	SubscriberID string
	Series       SeriesKey
	Notify       bool
}

// SeasonFolder renvoie "Season 01".
func SeasonFolder(season int) string {
	return fmt.Sprintf("Season %02d", season)
}

// EpisodeBaseName renvoie "Title S01E04" (sans extension).
func EpisodeBaseName(title string, season, episode int) string {
	return fmt.Sprintf("%s S%02dE%02d", title, season, episode)
}
