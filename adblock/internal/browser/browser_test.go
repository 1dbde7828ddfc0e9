package browser

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/adsweep/adblock/dom"
	"github.com/hazyhaar/adsweep/adblock/heuristic"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeHeadless, false},
		{"headless", ModeHeadless, false},
		{"headful", ModeHeadful, false},
		{"kiosk", ModeHeadless, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q): err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if ModeHeadful.String() != "headful" || ModeHeadless.String() != "headless" {
		t.Error("Mode.String mismatch")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	if cfg.RecycleInterval <= 0 || cfg.MemoryLimit <= 0 {
		t.Errorf("recycle limits not defaulted: %+v", cfg)
	}
	if cfg.XvfbDisplay != ":99" {
		t.Errorf("XvfbDisplay: got %q", cfg.XvfbDisplay)
	}
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestDecodeContext(t *testing.T) {
	// Shape returned by snapshotJS for an overlay inside the watch page.
	raw := `{
		"tag": "div",
		"classes": ["ytp-ad-text-overlay"],
		"attrs": {"id": "nested-text", "class": "ytp-ad-text-overlay"},
		"ancestors": [
			{"tag": "div", "classes": ["ytp-ad-overlay-container"]},
			{"tag": "div", "classes": ["html5-video-player"]},
			{"tag": "ytd-watch-flexy", "classes": []},
			{"tag": "body", "classes": []},
			{"tag": "html", "classes": []}
		],
		"has_video": false
	}`

	ec, err := decodeContext(raw)
	if err != nil {
		t.Fatalf("decodeContext: %v", err)
	}
	if ec.Tag != "div" || !ec.HasAttr("id") || len(ec.Ancestors) != 5 {
		t.Errorf("decoded: %+v", ec)
	}
	if v := heuristic.IsActualAd(ec); !v.Ad {
		t.Errorf("IsActualAd: got %+v, want ad", v)
	}

	if _, err := decodeContext("null-ish"); err == nil {
		t.Error("decodeContext: expected error for malformed payload")
	}
}

func TestDecodeBatch(t *testing.T) {
	batch, err := decodeBatch(`[{"tag":"ytd-ad-slot-renderer","indicators":["ytd-ad-slot-renderer","[data-ad-slot-id]"]},{"tag":"div"}]`)
	if err != nil {
		t.Fatalf("decodeBatch: %v", err)
	}
	if len(batch) != 2 || len(batch[0].Indicators) != 2 || batch[1].Tag != "div" {
		t.Errorf("decoded: %+v", batch)
	}
	if _, err := decodeBatch(`{"tag":"div"}`); err == nil {
		t.Error("decodeBatch: expected error for non-array payload")
	}
}

func TestDeliver_DropsWhenFull(t *testing.T) {
	d := NewDocument(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	batch := []dom.AddedNode{{Tag: "div", Indicators: []string{".ytp-ad-module"}}}

	for i := 0; i < cap(d.mutations); i++ {
		if !d.deliver(batch) {
			t.Fatalf("deliver %d: dropped before the queue was full", i)
		}
	}
	if d.deliver(batch) {
		t.Error("deliver: expected drop on a full queue")
	}
	if len(d.Mutations()) != cap(d.mutations) {
		t.Errorf("queued: got %d", len(d.Mutations()))
	}
}

func TestOnBinding(t *testing.T) {
	d := NewDocument(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d.onBinding(&proto.RuntimeBindingCalled{Name: "other", Payload: `[{"tag":"div"}]`})
	d.onBinding(&proto.RuntimeBindingCalled{Name: bindingName, Payload: `{not json`})
	if len(d.Mutations()) != 0 {
		t.Fatalf("queued: got %d, want 0 for foreign or malformed calls", len(d.Mutations()))
	}

	d.onBinding(&proto.RuntimeBindingCalled{
		Name:    bindingName,
		Payload: `[{"tag":"ytd-ad-slot-renderer","indicators":["ytd-ad-slot-renderer"]}]`,
	})
	select {
	case batch := <-d.Mutations():
		if len(batch) != 1 || batch[0].Tag != "ytd-ad-slot-renderer" {
			t.Errorf("batch: got %+v", batch)
		}
	default:
		t.Fatal("binding call was not queued")
	}
}

func TestWatchScript(t *testing.T) {
	for _, want := range []string{bindingName, "MutationObserver", "__adsweep_observer"} {
		if !strings.Contains(watchJS, want) {
			t.Errorf("watch.js does not mention %q", want)
		}
	}
}
