package jellyfin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRefresher_PostsWithToken(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost || r.URL.Path != "/Library/Refresh" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Emby-Token") != "secret" {
			t.Errorf("missing token")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	if err := NewRefresher(ts.URL+"/", "secret", nil).Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls: %d", calls)
	}
}

func TestRefresher_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	if err := NewRefresher(ts.URL, "bad", nil).Refresh(context.Background()); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestNew_DisabledReturnsNil(t *testing.T) {
	if r := New(false, "http://jellyfin", "k"); r != nil {
		t.Fatalf("expected nil refresher")
	}
	if r := New(true, "", "k"); r != nil {
		t.Fatalf("expected nil refresher without url")
	}
}
