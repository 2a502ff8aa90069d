package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/coedit-api/internal/auth"
	"github.com/ssau-fiit/coedit-api/internal/comments"
	"github.com/ssau-fiit/coedit-api/internal/hub"
	"github.com/ssau-fiit/coedit-api/internal/ledger"
	"github.com/ssau-fiit/coedit-api/internal/store"
)

/////////////////////////////
/// Auth Handlers
/////////////////////////////

func (s *Server) handleAuth(c *gin.Context) {
	var r AuthRequest
	err := c.BindJSON(&r)
	if err != nil {
		log.Error().Err(err).Msg("could not parse request")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	user, err := s.dir.Authenticate(ctx, r.Username, r.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to find user")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(200, gin.H{
		"user_id": user.ID,
	})
}

/////////////////////////////
/// Document Handlers
/////////////////////////////

func (s *Server) handleGetDocuments(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	documents, err := s.st.ListDocuments(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list documents")
		c.AbortWithStatus(500)
		return
	}

	c.JSON(200, documents)
}

func (s *Server) handleCreateDocument(c *gin.Context) {
	var r CreateDocRequest
	err := c.BindJSON(&r)
	if err != nil {
		log.Error().Err(err).Msg("bad request")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	if r.Author == "" {
		r.Author = "anonymous"
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	doc := store.Document{
		ID:     uuid.NewString(),
		Name:   r.Name,
		Author: r.Author,
	}
	// Documents start empty: replaying the full operation log over ""
	// must always reproduce the current content.
	if err := s.st.CreateDocument(ctx, doc, ""); err != nil {
		log.Error().Err(err).Msg("error creating document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(200, doc)
}

// handleGetDocument returns metadata plus the persisted content at the
// current tip: the last checkpoint with the log tail replayed on top.
func (s *Server) handleGetDocument(c *gin.Context) {
	docID := c.Param("id")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	doc, err := s.st.GetDocument(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("error getting document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	led, content, err := ledger.Open(ctx, docID, s.st)
	if err != nil {
		log.Error().Err(err).Msg("error reading document content")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(200, gin.H{
		"id":      doc.ID,
		"name":    doc.Name,
		"author":  doc.Author,
		"content": content,
		"version": led.Tip(),
	})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	docID := c.Param("id")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	// Kick live editors first so the drain checkpoint lands before the
	// rows go away.
	if err := s.reg.Drop(ctx, docID); err != nil {
		log.Error().Err(err).Msg("error closing live sessions")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	err := s.st.DeleteDocument(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("error deleting document")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.Status(200)
}

/////////////////////////////
/// Comment Handlers
/////////////////////////////

func (s *Server) handleGetComments(c *gin.Context) {
	docID := c.Param("id")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if _, err := s.st.GetDocument(ctx, docID); err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	list, err := s.cm.List(ctx, docID)
	if err != nil {
		log.Error().Err(err).Msg("error listing comments")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	c.JSON(200, list)
}

func (s *Server) handleAddComment(c *gin.Context) {
	docID := c.Param("id")

	var r CommentRequest
	if err := c.BindJSON(&r); err != nil {
		log.Error().Err(err).Msg("could not parse request")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if _, err := s.st.GetDocument(ctx, docID); err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	cm := comments.Comment{
		ID:        uuid.NewString(),
		DocID:     docID,
		Author:    r.Author,
		Text:      r.Text,
		Index:     r.Index,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := s.cm.Add(ctx, cm); err != nil {
		log.Error().Err(err).Msg("error storing comment")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	// Everyone with the document open hears about the comment right away.
	s.reg.RelayComment(docID, cm, hub.CommentAdded)

	c.JSON(200, cm)
}

func (s *Server) handleResolveComment(c *gin.Context) {
	docID := c.Param("id")
	commentID := c.Param("cid")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	cm, err := s.cm.Resolve(ctx, docID, commentID)
	if errors.Is(err, comments.ErrNotFound) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("error resolving comment")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	s.reg.RelayComment(docID, cm, hub.CommentResolved)

	c.JSON(200, cm)
}

/////////////////////////////
/// Socket Handler
/////////////////////////////

func (s *Server) handleSocket(c *gin.Context) {
	docID := c.Param("id")
	userID := c.Query("user_id")
	if userID == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if _, err := s.st.GetDocument(ctx, docID); err != nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	access, err := s.az.CanAccess(ctx, userID, docID)
	if err != nil {
		log.Error().Err(err).Msg("error checking access")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if !access.Read {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("error upgrading connection")
		return
	}
	defer conn.Close()

	sess := hub.NewSession(conn, userID, s.cfg)
	coord, err := s.reg.Attach(docID, sess)
	if err != nil {
		log.Error().Err(err).Msg("could not attach session")
		conn.WriteJSON(hub.ServerMessage{
			Type:    hub.TypeError,
			DocID:   docID,
			Code:    hub.CodeStorageUnavailable,
			Message: "document unavailable",
		})
		return
	}
	sess.Run(coord)
}
