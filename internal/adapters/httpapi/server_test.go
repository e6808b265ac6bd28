package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/memorybus"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/adapters/sqlite"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/httpjson"
)

type testServer struct {
	handler http.Handler
	series  *sqlite.SeriesRepository
	bus     *memorybus.Bus
	updated []domain.Settings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	bus := memorybus.New()
	t.Cleanup(bus.Close)
	settingsRepo := sqlite.NewSettingsRepository(db.SQL, domain.DefaultSettings())
	series := sqlite.NewSeriesRepository(db.SQL)
	jobs := app.NewJobService(sqlite.NewJobsRepository(db.SQL), bus)

	ts := &testServer{series: series, bus: bus}
	srv := NewServer(zerolog.Nop(), Services{
		Commands: app.NewCommandService(zerolog.Nop(), jobs, sqlite.NewFollowsRepository(db.SQL), settingsRepo, bus),
		Catalog:  app.NewCatalogService(series),
		Jobs:     jobs,
		Settings: app.NewSettingsService(settingsRepo),
		Bus:      bus,
		OnSettingsUpdated: func(s domain.Settings) {
			ts.updated = append(ts.updated, s)
		},
	})
	ts.handler = srv.Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, r)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (%s)", err, rr.Body.String())
	}
	return v
}

func TestDownload_QueuesAndListsJob(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/download", `{"link":"https://www.miruro.to/watch?id=154587&ep=1","episodes":"1-3"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: want %d, got %d (%s)", http.StatusAccepted, rr.Code, rr.Body.String())
	}
	st := decode[app.CommandStatus](t, rr)
	if st.Status != "queued" || st.Job == nil {
		t.Fatalf("unexpected status: %+v", st)
	}

	rr = ts.do(t, http.MethodGet, "/api/v1/jobs?state=queued&type=download", "")
	if jobs := decode[[]app.JobDTO](t, rr); len(jobs) != 1 || jobs[0].ID != st.Job.ID {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/jobs/"+st.Job.ID+"/cancel", "")
	if job := decode[app.JobDTO](t, rr); job.State != domain.JobCanceled {
		t.Fatalf("cancel: %+v", job)
	}
}

func TestDownload_InvalidLinkIsBadRequest(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/v1/download", `{"link":"https://example.com/anime/1","episodes":"1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: want %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if body := decode[httpjson.ErrorBody](t, rr); body.Code != string(domain.OutcomeInvalidRequest) {
		t.Fatalf("unexpected error body: %+v", body)
	}

	rr = ts.do(t, http.MethodPost, "/api/v1/download", `{`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid json: want %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

func TestFollowLifecycle(t *testing.T) {
	ts := newTestServer(t)
	body := `{"link":"https://www.miruro.to/watch?id=21","subscriber":"7"}`

	if rr := ts.do(t, http.MethodPost, "/api/v1/follow", body); rr.Code != http.StatusAccepted {
		t.Fatalf("follow: %d (%s)", rr.Code, rr.Body.String())
	}
	rr := ts.do(t, http.MethodPost, "/api/v1/notify", `{"link":"https://www.miruro.to/watch?id=21","subscriber":"7","notify":true}`)
	if st := decode[app.CommandStatus](t, rr); st.Follow == nil || !st.Follow.Notify {
		t.Fatalf("notify: %+v", st)
	}

	rr = ts.do(t, http.MethodGet, "/api/v1/follows?subscriber=7", "")
	if list := decode[[]app.FollowDTO](t, rr); len(list) != 1 || list[0].SeriesID != "21" {
		t.Fatalf("follows: %+v", list)
	}
	if rr := ts.do(t, http.MethodGet, "/api/v1/follows", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("follows without subscriber: %d", rr.Code)
	}

	rr = ts.do(t, http.MethodDelete, "/api/v1/follow", body)
	if st := decode[app.CommandStatus](t, rr); st.Status != "deleted" {
		t.Fatalf("unfollow: %+v", st)
	}
}

func TestCatalog_GetAndEpisodes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	key := domain.SeriesKey{SourceID: "154587", Variant: domain.VariantDub}
	if _, err := ts.series.UpsertSeries(ctx, domain.Series{Key: key, Title: "Frieren", Season: 1, EpisodesAired: 3, EpisodeCount: 12}); err != nil {
		t.Fatalf("UpsertSeries: %v", err)
	}
	if err := ts.series.UpsertEpisode(ctx, domain.Episode{Series: key, Season: 1, Number: 1, Downloaded: true}); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}

	rr := ts.do(t, http.MethodGet, "/api/v1/series/154587?variant=dub", "")
	if s := decode[app.SeriesDTO](t, rr); s.Title != "Frieren (Dubbed)" || s.EpisodeCount != 12 {
		t.Fatalf("series: %+v", s)
	}
	rr = ts.do(t, http.MethodGet, "/api/v1/series/154587/episodes?variant=dub", "")
	if eps := decode[[]app.EpisodeDTO](t, rr); len(eps) != 1 || !eps[0].Downloaded {
		t.Fatalf("episodes: %+v", eps)
	}

	if rr := ts.do(t, http.MethodGet, "/api/v1/series/154587", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("sub variant must be a distinct row: %d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, "/api/v1/series/154587?variant=raw", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown variant: %d", rr.Code)
	}
}

func TestSettings_PutMergesAndNotifies(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPut, "/api/v1/settings", `{"maxEpisodes":10}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: want %d, got %d (%s)", http.StatusOK, rr.Code, rr.Body.String())
	}
	got := decode[domain.Settings](t, rr)
	if got.MaxEpisodes != 10 || got.PreferredServer != domain.DefaultSettings().PreferredServer {
		t.Fatalf("settings not merged: %+v", got)
	}
	if len(ts.updated) != 1 || ts.updated[0].MaxEpisodes != 10 {
		t.Fatalf("callback: %+v", ts.updated)
	}

	if rr := ts.do(t, http.MethodPut, "/api/v1/settings", `{"maxRetries":50}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("out of range maxRetries: %d", rr.Code)
	}
}

func TestJobs_UnknownIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	if rr := ts.do(t, http.MethodGet, "/api/v1/jobs/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rr.Code)
	}
}

func TestOpenAPI_ListsCommandRoutes(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/v1/openapi.json", "")
	doc := decode[map[string]any](t, rr)
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/api/v1/download", "/api/v1/follow", "/api/v1/series/{id}/episodes"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("missing path %s", p)
		}
	}
}

func TestEvents_StreamsFilteredTopics(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?topics=episode.", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	// hello
	for sc.Scan() && sc.Text() != "" {
	}
	ts.bus.Publish("job.created", []byte(`{"id":"x"}`))
	ts.bus.Publish("episode.downloaded", []byte(`{"number":1}`))

	var lines []string
	for sc.Scan() && sc.Text() != "" {
		lines = append(lines, sc.Text())
	}
	got := strings.Join(lines, "\n")
	if got != "event: episode.downloaded\ndata: {\"number\":1}" {
		t.Fatalf("unexpected event: %q", got)
	}
}
