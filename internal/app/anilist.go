package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrAniListNotFound = errors.New("anilist media not found")

const DefaultAniListEndpoint = "https://graphql.anilist.co"

// AniListService interroge l'API GraphQL publique d'AniList (sans token).
type AniListService struct {
	endpoint string
	client   *http.Client
}

func NewAniListService() *AniListService {
	return &AniListService{
		endpoint: DefaultAniListEndpoint,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *AniListService) WithEndpoint(endpoint string) *AniListService {
	if strings.TrimSpace(endpoint) != "" {
		s.endpoint = strings.TrimSpace(endpoint)
	}
	return s
}

type aniListGraphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type aniListGraphQLError struct {
	Message string `json:"message"`
}

type aniListGraphQLResponse[T any] struct {
	Data   T                     `json:"data"`
	Errors []aniListGraphQLError `json:"errors,omitempty"`
}

// AniListMedia : le sous-ensemble utile aux fichiers .nfo.
type AniListMedia struct {
	ID    int `json:"id"`
	IDMal int `json:"idMal"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
	} `json:"title"`
	Description  string `json:"description"`
	AverageScore int    `json:"averageScore"`
	StartDate    struct {
		Year int `json:"year"`
	} `json:"startDate"`
	CoverImage struct {
		ExtraLarge string `json:"extraLarge"`
		Large      string `json:"large"`
	} `json:"coverImage"`
	BannerImage string `json:"bannerImage"`
}

func (m AniListMedia) DisplayTitle() string {
	if m.Title.English != "" {
		return m.Title.English
	}
	return m.Title.Romaji
}

func (m AniListMedia) Poster() string {
	if m.CoverImage.ExtraLarge != "" {
		return m.CoverImage.ExtraLarge
	}
	return m.CoverImage.Large
}

type mediaData struct {
	Media *AniListMedia `json:"Media"`
}

// MediaByMAL cherche la fiche AniList correspondant à un id MyAnimeList.
func (s *AniListService) MediaByMAL(ctx context.Context, malID int) (AniListMedia, error) {
	req := aniListGraphQLRequest{
		Query: `query($idMal:Int){
			Media(idMal:$idMal, type: ANIME){
				id idMal
				title{ romaji english }
				description(asHtml:false) averageScore
				startDate{ year }
				coverImage{ extraLarge large }
				bannerImage
			}
		}`,
		Variables: map[string]any{"idMal": malID},
	}

	var out aniListGraphQLResponse[mediaData]
	if err := s.do(ctx, req, &out); err != nil {
		return AniListMedia{}, err
	}
	if len(out.Errors) > 0 {
		return AniListMedia{}, errors.New(out.Errors[0].Message)
	}
	if out.Data.Media == nil {
		return AniListMedia{}, fmt.Errorf("%w: mal id %d", ErrAniListNotFound, malID)
	}
	return *out.Data.Media, nil
}

func (s *AniListService) do(ctx context.Context, req aniListGraphQLRequest, out any) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "hue-server")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// AniList tends to return JSON, but we keep it simple.
		return errors.New("anilist http error: " + resp.Status)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
