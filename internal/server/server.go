// Package server exposes the pipeline over HTTP: vectorization
// triggers, status polling, the chat endpoint and history retrieval.
package server

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bookchat/internal/domain"
	"bookchat/internal/logger"
	"bookchat/internal/rag"
)

// Vectorizer is the orchestrator surface the handlers drive.
type Vectorizer interface {
	Start(ctx context.Context, bookID string, force bool) (domain.VectorizationStatus, error)
	Status(ctx context.Context, bookID string) (domain.VectorizationStatus, error)
	Purge(ctx context.Context, bookID string) error
}

// Chatter answers questions against an indexed book.
type Chatter interface {
	Query(ctx context.Context, bookID, question string) (rag.Answer, error)
}

// MessageLister reads per-book chat history.
type MessageLister interface {
	ListByBook(ctx context.Context, bookID string, limit int) ([]domain.Message, error)
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	router     *gin.Engine
	vectorizer Vectorizer
	chatter    Chatter
	messages   MessageLister
	log        *logger.Logger
}

// New assembles the router with its middleware and routes. mode is the
// gin mode ("release" in production, "debug" otherwise).
func New(vectorizer Vectorizer, chatter Chatter, messages MessageLister, mode string, log *logger.Logger) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}

	s := &Server{
		router:     gin.New(),
		vectorizer: vectorizer,
		chatter:    chatter,
		messages:   messages,
		log:        log,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestID())
	s.router.Use(cors.Default())

	s.router.GET("/healthcheck", s.handleHealthcheck)

	api := s.router.Group("/api")
	{
		api.POST("/books/:id/vectorize", s.handleVectorize)
		api.GET("/books/:id/vector-status", s.handleVectorStatus)
		api.DELETE("/books/:id/vectors", s.handleDeleteVectors)
		api.GET("/books/:id/messages", s.handleMessages)
		api.POST("/chat", s.handleChat)
	}

	return s
}

// Router exposes the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run blocks serving HTTP on addr.
func (s *Server) Run(addr string) error {
	s.log.Info("http server listening", "addr", addr)
	return s.router.Run(addr)
}

// requestID tags every request for log correlation. An inbound
// X-Request-Id is kept so upstream traces carry through.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}
