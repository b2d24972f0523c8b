package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bookchat/internal/domain"
)

type vectorizeRequest struct {
	Force bool `json:"force"`
}

type chatRequest struct {
	BookID   string `json:"book_id" binding:"required"`
	Question string `json:"question" binding:"required"`
}

func (s *Server) handleHealthcheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleVectorize triggers a run. The acknowledgment is synchronous,
// completion is polled via vector-status.
func (s *Server) handleVectorize(c *gin.Context) {
	bookID := c.Param("id")

	var req vectorizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	st, err := s.vectorizer.Start(c.Request.Context(), bookID, req.Force)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (s *Server) handleVectorStatus(c *gin.Context) {
	st, err := s.vectorizer.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleDeleteVectors(c *gin.Context) {
	if err := s.vectorizer.Purge(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "book_id and question are required"})
		return
	}

	answer, err := s.chatter.Query(c.Request.Context(), req.BookID, req.Question)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (s *Server) handleMessages(c *gin.Context) {
	msgs, err := s.messages.ListByBook(c.Request.Context(), c.Param("id"), 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// writeError maps domain error kinds onto HTTP statuses. Unclassified
// errors stay opaque to the client.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrIndexUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
