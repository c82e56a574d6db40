// Package httpserver exposes a small read-only debug surface over the live
// session: health, session/call state and the per-turn latency table.
// Presentation layers poll it; nothing here mutates the session.
package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kevinevans1/art-voice-agent-accelerator-sub001/internal/session"
)

// Server bundles the echo router and its session handle.
type Server struct {
	Router *echo.Echo
	sess   *session.Session
}

// New constructs the debug server around a session.
func New(sess *session.Session) *Server {
	e := newRouter()
	s := &Server{Router: e, sess: sess}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/session", s.handleSession)
	e.GET("/turns", s.handleTurns)
	return s
}

// Start serves on the given address until the process exits.
func (s *Server) Start(address string) error {
	return s.Router.Start(address)
}

func (s *Server) handleSession(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sess.Snapshot())
}

func (s *Server) handleTurns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sess.Turns())
}
