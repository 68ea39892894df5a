// Package api serves a read-only status view of the running capture
// service: recent captures, monitoring reports and stored screenshots.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/pagewatch/internal/events"
	"github.com/dgnsrekt/pagewatch/internal/snapshot"
)

// Screenshots is the read side of the screenshot store.
type Screenshots interface {
	List() ([]snapshot.Meta, error)
	ReadImage(name string) ([]byte, error)
}

// Status describes the running service for GET /health.
type Status struct {
	Mode      string    `json:"mode"`
	Targets   int       `json:"targets"`
	Directory string    `json:"directory"`
	StartedAt time.Time `json:"started_at"`
}

func NewServer(status Status, recorder *Recorder, shots Screenshots, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("pagewatch status API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			logger.Debug("docs response write failed", "error", err)
		}
	})

	registerStatusHandlers(api, status, recorder)
	registerScreenshotHandlers(api, shots)

	return router
}

func registerStatusHandlers(api huma.API, status Status, recorder *Recorder) {
	type healthOutput struct {
		Body struct {
			Status  string `json:"status"`
			Service Status `json:"service"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Service = status
			return out, nil
		})

	type capturesInput struct {
		Limit int    `query:"limit" default:"50" minimum:"0" maximum:"1000" doc:"Maximum events to return; 0 returns all held"`
		Kind  string `query:"kind" enum:"capture,change,failure" doc:"Only return events of this kind"`
	}
	type eventsOutput struct {
		Body struct {
			Events []events.Event `json:"events"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-captures", Method: http.MethodGet, Path: "/api/v1/captures", Summary: "Recent capture, change and failure events", Tags: []string{"Captures"}},
		func(ctx context.Context, input *capturesInput) (*eventsOutput, error) {
			out := &eventsOutput{}
			out.Body.Events = recorder.Recent(input.Limit, events.Kind(input.Kind))
			return out, nil
		})

	type reportsInput struct {
		Limit int `query:"limit" default:"20" minimum:"0" maximum:"1000"`
	}
	huma.Register(api, huma.Operation{OperationID: "list-monitor-reports", Method: http.MethodGet, Path: "/api/v1/monitor/reports", Summary: "Completed monitoring session reports", Tags: []string{"Monitoring"}},
		func(ctx context.Context, input *reportsInput) (*eventsOutput, error) {
			out := &eventsOutput{}
			out.Body.Events = recorder.Reports(input.Limit)
			return out, nil
		})
}

func registerScreenshotHandlers(api huma.API, shots Screenshots) {
	type listOutput struct {
		Body struct {
			Screenshots []snapshot.Meta `json:"screenshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-screenshots", Method: http.MethodGet, Path: "/api/v1/screenshots", Summary: "List stored screenshots, newest first", Tags: []string{"Screenshots"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			metas, err := shots.List()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Screenshots = metas
			return out, nil
		})

	type imageInput struct {
		Name string `path:"name" doc:"Screenshot file name as returned by the list endpoint"`
	}
	type imageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-screenshot-image",
		Method:      http.MethodGet,
		Path:        "/api/v1/screenshots/{name}/image",
		Summary:     "Get screenshot image",
		Tags:        []string{"Screenshots"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Screenshot image",
				Content: map[string]*huma.MediaType{
					"image/png": {
						Schema: &huma.Schema{Type: "string", Format: "binary"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *imageInput) (*imageOutput, error) {
		data, err := shots.ReadImage(input.Name)
		if err != nil {
			return nil, mapErr(err)
		}
		return &imageOutput{ContentType: "image/png", Body: data}, nil
	})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, snapshot.ErrNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
