// Package api exposes the REST and websocket surface of the editing
// service. REST covers auth, document management and comments; everything
// live goes over the websocket at /api/v1/documents/:id/ws.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ssau-fiit/coedit-api/internal/auth"
	"github.com/ssau-fiit/coedit-api/internal/comments"
	"github.com/ssau-fiit/coedit-api/internal/config"
	"github.com/ssau-fiit/coedit-api/internal/hub"
	"github.com/ssau-fiit/coedit-api/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server wires the handlers to their backends.
type Server struct {
	st  store.Store
	dir auth.Directory
	az  auth.Authorizer
	cm  comments.Store
	reg *hub.Registry
	cfg config.Session
}

func NewServer(st store.Store, dir auth.Directory, az auth.Authorizer, cm comments.Store, reg *hub.Registry, cfg config.Session) *Server {
	return &Server{st: st, dir: dir, az: az, cm: cm, reg: reg, cfg: cfg}
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.POST("/auth", s.handleAuth)
	v1.GET("/documents", s.handleGetDocuments)
	v1.POST("/documents/create", s.handleCreateDocument)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.GET("/documents/:id/ws", s.handleSocket)
	v1.GET("/documents/:id/comments", s.handleGetComments)
	v1.POST("/documents/:id/comments", s.handleAddComment)
	v1.POST("/documents/:id/comments/:cid/resolve", s.handleResolveComment)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
