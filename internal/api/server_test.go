package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/pagewatch/internal/events"
	"github.com/dgnsrekt/pagewatch/internal/snapshot"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *Recorder, *snapshot.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := snapshot.NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("snapshot.NewStore() error = %v", err)
	}
	rec := NewRecorder(10)
	status := Status{Mode: "scheduled", Targets: 2, Directory: store.Dir(), StartedAt: at}
	srv := httptest.NewServer(NewServer(status, rec, store, logger))
	t.Cleanup(srv.Close)
	return srv, rec, store
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var body struct {
		Status  string `json:"status"`
		Service Status `json:"service"`
	}
	resp := getJSON(t, srv.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Status != "ok" || body.Service.Mode != "scheduled" || body.Service.Targets != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestDocsPage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/docs")
	if err != nil {
		t.Fatalf("GET /docs error = %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "/openapi.json") {
		t.Fatalf("docs status = %d body = %q", resp.StatusCode, data)
	}
}

func TestCapturesNewestFirstWithKindFilter(t *testing.T) {
	srv, rec, _ := newTestServer(t)
	ctx := context.Background()
	rec.Emit(ctx, events.Event{Kind: events.KindCapture, Target: "A", Time: at})
	rec.Emit(ctx, events.Event{Kind: events.KindFailure, Target: "B", Time: at.Add(time.Second)})
	rec.Emit(ctx, events.Event{Kind: events.KindCapture, Target: "C", Time: at.Add(2 * time.Second)})

	var body struct {
		Events []events.Event `json:"events"`
	}
	getJSON(t, srv.URL+"/api/v1/captures", &body)
	if len(body.Events) != 3 || body.Events[0].Target != "C" || body.Events[2].Target != "A" {
		t.Fatalf("events = %+v", body.Events)
	}

	body.Events = nil
	getJSON(t, srv.URL+"/api/v1/captures?kind=failure", &body)
	if len(body.Events) != 1 || body.Events[0].Target != "B" {
		t.Fatalf("failure events = %+v", body.Events)
	}

	body.Events = nil
	getJSON(t, srv.URL+"/api/v1/captures?limit=1", &body)
	if len(body.Events) != 1 || body.Events[0].Target != "C" {
		t.Fatalf("limited events = %+v", body.Events)
	}

	resp := getJSON(t, srv.URL+"/api/v1/captures?kind=bogus", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bogus kind status = %d; want 422", resp.StatusCode)
	}
}

func TestMonitorReports(t *testing.T) {
	srv, rec, _ := newTestServer(t)
	rate := int64(5000)
	rec.Emit(context.Background(), events.Event{
		Kind:    events.KindReport,
		Target:  "Example",
		Summary: &events.Summary{SessionID: "s-1", Samples: 3, Changes: 2, ChangeRateMS: &rate},
	})
	rec.Emit(context.Background(), events.Event{Kind: events.KindCapture, Target: "Example"})

	var body struct {
		Events []events.Event `json:"events"`
	}
	getJSON(t, srv.URL+"/api/v1/monitor/reports", &body)
	if len(body.Events) != 1 || body.Events[0].Summary == nil || body.Events[0].Summary.Changes != 2 {
		t.Fatalf("reports = %+v", body.Events)
	}
	if *body.Events[0].Summary.ChangeRateMS != 5000 {
		t.Fatalf("change rate = %d", *body.Events[0].Summary.ChangeRateMS)
	}
}

func TestScreenshotsListAndImage(t *testing.T) {
	srv, _, store := newTestServer(t)
	png := []byte("\x89PNG fake")
	path, err := store.Save("Example", "", at, png)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var body struct {
		Screenshots []snapshot.Meta `json:"screenshots"`
	}
	getJSON(t, srv.URL+"/api/v1/screenshots", &body)
	if len(body.Screenshots) != 1 || body.Screenshots[0].Path != path {
		t.Fatalf("screenshots = %+v", body.Screenshots)
	}

	resp, err := http.Get(srv.URL + "/api/v1/screenshots/" + body.Screenshots[0].Name + "/image")
	if err != nil {
		t.Fatalf("GET image error = %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(data) != string(png) {
		t.Fatalf("image status = %d body = %q", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestScreenshotImageNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, name := range []string{"missing.png", "..%2Fsecret.png", "UPPER.png"} {
		resp := getJSON(t, srv.URL+"/api/v1/screenshots/"+name+"/image", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status = %d; want 404", name, resp.StatusCode)
		}
	}
}
