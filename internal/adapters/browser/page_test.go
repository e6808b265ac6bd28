package browser

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestScriptsQuoteSelectors(t *testing.T) {
	sel := `button[title="Download Episode"]`
	got := countJS(sel)
	if got != `document.querySelectorAll("button[title=\"Download Episode\"]").length` {
		t.Fatalf("countJS: %s", got)
	}
	if !strings.Contains(attrsJS("a.redirect", "href"), `getAttribute("href")`) {
		t.Fatalf("attrsJS: %s", attrsJS("a.redirect", "href"))
	}
	if js := clickJS("button.b1nm6r8", 2); !strings.Contains(js, "if (2 >= els.length) return false;") {
		t.Fatalf("clickJS: %s", js)
	}
}

func TestSubmitJSCarriesFields(t *testing.T) {
	js := submitJS("https://kwik.si/d/abc", map[string]string{"_token": `x"y`})
	if !strings.Contains(js, `f.action = "https://kwik.si/d/abc";`) {
		t.Fatalf("action missing: %s", js)
	}
	if !strings.Contains(js, `{"_token":"x\"y"}`) {
		t.Fatalf("fields not encoded: %s", js)
	}
}

func TestFlags(t *testing.T) {
	c := New(zerolog.Nop(), Options{ExtensionDir: "/ext/ublock", Headless: true})
	f := c.flags()
	if f["load-extension"] != "/ext/ublock" || f["disable-extensions-except"] != "/ext/ublock" {
		t.Fatalf("extension flags: %+v", f)
	}
	if f["headless"] != "new" {
		t.Fatalf("headless flag: %v", f["headless"])
	}

	f = New(zerolog.Nop(), Options{}).flags()
	if _, ok := f["load-extension"]; ok || f["headless"] != false {
		t.Fatalf("unexpected flags: %+v", f)
	}
	if n := len(New(zerolog.Nop(), Options{ProfileDir: "p"}).allocatorOptions()); n == 0 {
		t.Fatalf("no allocator options")
	}
}
