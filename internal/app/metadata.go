package app

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

// MetadataService écrit les fichiers .nfo et les images lus par le media server.
// Tout est best-effort : l'appelant journalise l'erreur et continue.
type MetadataService struct {
	logger           zerolog.Logger
	anilist          *AniListService
	episodesEndpoint string
	client           *http.Client
}

func NewMetadataService(logger zerolog.Logger, anilist *AniListService, episodesEndpoint string) *MetadataService {
	return &MetadataService{
		logger:           logger,
		anilist:          anilist,
		episodesEndpoint: strings.TrimSpace(episodesEndpoint),
		client:           &http.Client{Timeout: 15 * time.Second},
	}
}

// episodesDoc : {"TMDB": {"<id>": {"metadata": {...}}}}
type episodesDoc struct {
	TMDB map[string]struct {
		Metadata struct {
			TVShowDetails struct {
				Show struct {
					BackdropPath string `json:"backdrop_path"`
				} `json:"show"`
			} `json:"tvShowDetails"`
			Episodes []episodeMeta `json:"episodes"`
		} `json:"metadata"`
	} `json:"TMDB"`
}

type episodeMeta struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	AirDate     string `json:"airDate"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

type nfoThumb struct {
	Aspect string `xml:"aspect,attr"`
	URL    string `xml:",chardata"`
}

type showNFO struct {
	XMLName      xml.Name
	Title        string   `xml:"title"`
	SeasonNumber int      `xml:"seasonnumber,omitempty"`
	Year         int      `xml:"year,omitempty"`
	Plot         string   `xml:"plot,omitempty"`
	Rating       int      `xml:"rating,omitempty"`
	Thumb        nfoThumb `xml:"thumb"`
}

type episodeNFO struct {
	XMLName xml.Name `xml:"episodedetails"`
	Title   string   `xml:"title"`
	Season  int      `xml:"season"`
	Episode int      `xml:"episode"`
	Aired   string   `xml:"aired,omitempty"`
	Plot    string   `xml:"plot,omitempty"`
	Thumb   nfoThumb `xml:"thumb"`
}

const tmdbImageBase = "https://image.tmdb.org/t/p/original"

func (m *MetadataService) Enrich(ctx context.Context, req ports.MetadataRequest) error {
	if m == nil || m.anilist == nil {
		return nil
	}
	malID, err := strconv.Atoi(strings.TrimSpace(req.MALID))
	if err != nil || malID <= 0 {
		return nil
	}
	log := m.logger.With().Str("series", req.Series.Key.String()).Int("mal_id", malID).Logger()

	media, err := m.anilist.MediaByMAL(ctx, malID)
	if err != nil {
		return fmt.Errorf("anilist media: %w", err)
	}

	var tmdbEpisodes []episodeMeta
	var backdrop string
	if doc, err := m.fetchEpisodes(ctx, malID, req.Series.IsAiring); err != nil {
		log.Debug().Err(err).Msg("episode metadata unavailable")
	} else {
		for _, entry := range doc.TMDB {
			tmdbEpisodes = entry.Metadata.Episodes
			if p := entry.Metadata.TVShowDetails.Show.BackdropPath; p != "" {
				backdrop = tmdbImageBase + p
			}
			break
		}
	}

	var errs []error
	if err := m.writeSeries(ctx, log, req, media, backdrop); err != nil {
		errs = append(errs, err)
	}
	if err := m.writeEpisode(req, tmdbEpisodes); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// writeSeries : tvshow.nfo pour la saison 1, Season NN/season.nfo au-delà.
// Les fichiers déjà présents ne sont pas réécrits.
func (m *MetadataService) writeSeries(ctx context.Context, log zerolog.Logger, req ports.MetadataRequest, media AniListMedia, backdrop string) error {
	season := req.Series.Season
	nfo := showNFO{
		XMLName: xml.Name{Local: "tvshow"},
		Title:   media.DisplayTitle(),
		Year:    media.StartDate.Year,
		Plot:    media.Description,
		Rating:  media.AverageScore,
		Thumb:   nfoThumb{Aspect: "poster", URL: media.Poster()},
	}
	dir := req.SeriesDir
	path := filepath.Join(dir, "tvshow.nfo")
	backdropName, bannerName := "backdrop.jpg", "banner.jpg"
	if season > 1 {
		nfo.XMLName = xml.Name{Local: "season"}
		nfo.SeasonNumber = season
		dir = req.SeasonDir
		path = filepath.Join(dir, "season.nfo")
		backdropName = fmt.Sprintf("season%d-backdrop.jpg", season)
		bannerName = fmt.Sprintf("season%d-banner.jpg", season)
	}

	if !exists(path) {
		if err := writeXML(path, nfo); err != nil {
			return err
		}
	}
	m.fetchImage(ctx, log, backdrop, filepath.Join(dir, backdropName))
	m.fetchImage(ctx, log, media.BannerImage, filepath.Join(dir, bannerName))
	return nil
}

// writeEpisode : la numérotation TMDB peut commencer après 1 (suite d'une saison
// précédente), on décale donc depuis le premier numéro connu.
func (m *MetadataService) writeEpisode(req ports.MetadataRequest, episodes []episodeMeta) error {
	if len(episodes) == 0 {
		return nil
	}
	first := episodes[0].Number
	if first <= 0 {
		first = 1
	}
	want := first + req.Episode.Number - 1

	for _, ep := range episodes {
		if ep.Number != want {
			continue
		}
		title := ep.Title
		if title == "" {
			title = req.Episode.Title
		}
		path := filepath.Join(req.SeasonDir, EpisodeFileBase(req.Series, req.FileNumber)+".nfo")
		return writeXML(path, episodeNFO{
			Title:   title,
			Season:  req.Series.Season,
			Episode: req.FileNumber,
			Aired:   ep.AirDate,
			Plot:    ep.Description,
			Thumb:   nfoThumb{Aspect: "poster", URL: ep.Image},
		})
	}
	return fmt.Errorf("episode %d missing from metadata", want)
}

func (m *MetadataService) fetchEpisodes(ctx context.Context, malID int, ongoing bool) (episodesDoc, error) {
	var doc episodesDoc
	if m.episodesEndpoint == "" {
		return doc, errors.New("no episodes endpoint")
	}
	q := url.Values{}
	q.Set("malId", strconv.Itoa(malID))
	q.Set("ongoing", strconv.FormatBool(ongoing))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.episodesEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return doc, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return doc, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return doc, errors.New("episodes http error: " + resp.Status)
	}
	return doc, json.NewDecoder(resp.Body).Decode(&doc)
}

func (m *MetadataService) fetchImage(ctx context.Context, log zerolog.Logger, src, dst string) {
	if src == "" || src == tmdbImageBase || exists(dst) {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", src).Msg("image download failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Debug().Str("url", src).Int("status", resp.StatusCode).Msg("image download failed")
		return
	}
	n, err := writeFileAtomic(dst, resp.Body)
	if err != nil {
		log.Debug().Err(err).Str("path", dst).Msg("image not written")
		return
	}
	log.Debug().Str("path", dst).Str("size", humanize.Bytes(uint64(n))).Msg("image saved")
}

func writeXML(path string, v any) error {
	b, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = writeFileAtomic(path, strings.NewReader(xml.Header+string(b)+"\n"))
	return err
}

func writeFileAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, os.Rename(tmp, path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
