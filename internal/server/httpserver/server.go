// Package httpserver exposes the file registry and the room endpoint over
// HTTP using gin.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/devsync/internal/logging"
	"github.com/dmitrijs2005/devsync/internal/server/models"
	"github.com/dmitrijs2005/devsync/internal/server/services"
	"github.com/gin-gonic/gin"
)

// FileService is the registry API served by the handlers.
type FileService interface {
	Create(ctx context.Context, in services.CreateFileInput) (*models.File, error)
	Upload(ctx context.Context, in services.UploadFileInput) (*models.File, error)
	ListByOwner(ctx context.Context, userID string) ([]*models.File, error)
	RequestAccess(ctx context.Context, id, password string) (*models.File, error)
	UpdateSecret(ctx context.Context, id, userID, password string) (*models.File, error)
	SaveContent(ctx context.Context, id, content string) (bool, error)
	Content(ctx context.Context, id, password string) (string, error)
	Delete(ctx context.Context, id string) error
}

// RoomServer runs a websocket peer for a room.
type RoomServer interface {
	ServeRoom(w http.ResponseWriter, r *http.Request, room string)
}

type Server struct {
	address        string
	files          FileService
	rooms          RoomServer
	maxUploadBytes int64
	logger         logging.Logger
	engine         *gin.Engine
}

const shutdownTimeout = 10 * time.Second

func New(address string, files FileService, rooms RoomServer, maxUploadBytes int64, l logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		address:        address,
		files:          files,
		rooms:          rooms,
		maxUploadBytes: maxUploadBytes,
		logger:         l.With("module", "http_server"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.register(r.Group(""))
	s.register(r.Group("/api"))
	s.engine = r
	return s
}

func (s *Server) register(g *gin.RouterGroup) {
	g.GET("/health", s.health)
	g.GET("/files", s.listFiles)
	g.POST("/file/create", s.createFile)
	g.POST("/file/:id/access", s.requestAccess)
	g.GET("/file/:id/content", s.content)
	g.PUT("/file/:id/password", s.updatePassword)
	g.PUT("/file/:id", s.saveFile)
	g.DELETE("/file/:id", s.deleteFile)
	g.POST("/upload", s.upload)
	g.GET("/rooms/:room", s.room)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
