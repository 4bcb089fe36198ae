package netproxy

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Use-Tusk/fence/internal/config"
)

func newTestAdmin() *Admin {
	fifo := NewBlockedFIFO()
	filter := NewFilter(config.Default(), ModeFull, false, fifo, false)
	return NewAdmin(filter, fifo, nil)
}

func TestAdminHandleBlockedDrainsFIFO(t *testing.T) {
	a := newTestAdmin()
	a.fifo.Push(BlockedRequest{Host: "evil.example.com", Reason: "denied"})

	req := httptest.NewRequest("GET", "/blocked", nil)
	rec := httptest.NewRecorder()
	a.handleBlocked(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []BlockedRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].Host != "evil.example.com" {
		t.Errorf("got %+v, want one blocked request for evil.example.com", got)
	}

	if a.fifo.Len() != 0 {
		t.Error("expected FIFO to be drained after /blocked")
	}
}

func TestAdminHandleBlockedRejectsNonGET(t *testing.T) {
	a := newTestAdmin()
	req := httptest.NewRequest("POST", "/blocked", nil)
	rec := httptest.NewRecorder()
	a.handleBlocked(rec, req)
	if rec.Code != 405 {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestAdminHandleModeSwitches(t *testing.T) {
	a := newTestAdmin()

	req := httptest.NewRequest("POST", "/mode", strings.NewReader(`{"mode":"limited"}`))
	rec := httptest.NewRecorder()
	a.handleMode(rec, req)

	if rec.Code != 204 {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if a.filter.Mode() != ModeLimited {
		t.Errorf("filter.Mode() = %v, want ModeLimited", a.filter.Mode())
	}
}

func TestAdminHandleModeRejectsUnknownMode(t *testing.T) {
	a := newTestAdmin()
	req := httptest.NewRequest("POST", "/mode", strings.NewReader(`{"mode":"bogus"}`))
	rec := httptest.NewRecorder()
	a.handleMode(rec, req)
	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAdminHandleReloadNoopWhenNilCallback(t *testing.T) {
	a := newTestAdmin()
	req := httptest.NewRequest("POST", "/reload", nil)
	rec := httptest.NewRecorder()
	a.handleReload(rec, req)
	if rec.Code != 204 {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestAdminHandleReloadPropagatesError(t *testing.T) {
	fifo := NewBlockedFIFO()
	filter := NewFilter(config.Default(), ModeFull, false, fifo, false)
	a := NewAdmin(filter, fifo, func() error { return errors.New("reload failed") })

	req := httptest.NewRequest("POST", "/reload", nil)
	rec := httptest.NewRecorder()
	a.handleReload(rec, req)
	if rec.Code != 500 {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
