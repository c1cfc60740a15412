// Package httpserver exposes the local status and debug surface: health,
// the live conversation state, the session history, and Prometheus metrics.
package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxloop/voxloop/internal/convo"
)

// Handlers serves the conversation's observable state.
type Handlers struct {
	Orch *convo.Orchestrator
}

func NewHandlers(orch *convo.Orchestrator) Handlers {
	return Handlers{Orch: orch}
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/v1/state", h.state)
	e.GET("/v1/history", h.history)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (h Handlers) state(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Orch.Snapshot())
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h Handlers) history(c echo.Context) error {
	msgs := h.Orch.History().All()
	out := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyEntry{Role: m.Role, Content: m.Content})
	}
	return c.JSON(http.StatusOK, out)
}
