package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutorchat/internal/auth"
	"tutorchat/internal/models"
	"tutorchat/internal/service/chats"
	"tutorchat/internal/service/relay"
)

// Store is the persistence surface the handlers need.
type Store interface {
	ListTutors(ctx context.Context) ([]models.Tutor, error)
	GetTutor(ctx context.Context, id string) (*models.Tutor, error)
	SeedTutors(ctx context.Context) (int, error)
	CreateChat(ctx context.Context, tutorID string) (*models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ListChats(ctx context.Context, tutorID string) ([]models.Chat, error)
	RenameChat(ctx context.Context, id, title string) error
	DeleteChat(ctx context.Context, id string) error
	ListMessages(ctx context.Context, chatID string) ([]*models.Message, error)
	ClearMessages(ctx context.Context, chatID string) (int64, error)
}

// Responder streams a tutor reply for one send-message request.
type Responder interface {
	Respond(ctx context.Context, req relay.Request, emit func(chunk string) error) (*relay.Result, error)
}

// Handler wires HTTP routes to the chat store and the completion relay.
type Handler struct {
	store Store
	relay Responder
	auth  *auth.Service
	oauth *auth.OAuth
	log   *zap.Logger
}

// NewHandler constructs a Handler. authService and oauth may be nil to serve the API without sessions.
func NewHandler(store Store, responder Responder, authService *auth.Service, oauth *auth.OAuth, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store: store,
		relay: responder,
		auth:  authService,
		oauth: oauth,
		log:   log,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	if h.auth != nil {
		if h.oauth != nil {
			api.GET("/auth/login", h.login)
			api.GET("/auth/callback", h.callback)
		}
		api.POST("/auth/logout", h.auth.Middleware(), h.auth.CSRFMiddleware(), h.logout)
		api.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	}

	api.GET("/seed", h.seed)
	api.GET("/tutors", h.listTutors)
	api.GET("/tutors/:id", h.getTutor)

	api.GET("/chats", h.listChats)
	api.POST("/chats", h.createChat)
	api.GET("/chats/:id", h.getChat)
	api.PATCH("/chats/:id", h.renameChat)
	api.DELETE("/chats/:id", h.deleteChat)

	api.GET("/messages", h.listMessages)
	api.POST("/messages", h.sendMessage)
	api.DELETE("/messages", h.clearMessages)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps service errors onto status codes. internalMsg is reported for storage failures.
func (h *Handler) fail(c *gin.Context, err error, notFoundMsg, internalMsg string) {
	switch {
	case chats.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chats.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
	case errors.Is(err, relay.ErrBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		h.log.Error(internalMsg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalMsg})
	}
}

// Tutors

func (h *Handler) seed(c *gin.Context) {
	n, err := h.store.SeedTutors(c.Request.Context())
	if err != nil {
		h.fail(c, err, "", "Failed to seed database")
		return
	}
	msg := "Database already seeded"
	if n > 0 {
		msg = "Database seeded successfully"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

func (h *Handler) listTutors(c *gin.Context) {
	tutors, err := h.store.ListTutors(c.Request.Context())
	if err != nil {
		h.fail(c, err, "", "Failed to fetch tutors")
		return
	}
	c.JSON(http.StatusOK, tutors)
}

func (h *Handler) getTutor(c *gin.Context) {
	tutor, err := h.store.GetTutor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Tutor not found", "Failed to fetch tutor")
		return
	}
	c.JSON(http.StatusOK, tutor)
}

// Chats

func (h *Handler) listChats(c *gin.Context) {
	tutorID := strings.TrimSpace(c.Query("tutorId"))
	if tutorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tutorId is required"})
		return
	}
	list, err := h.store.ListChats(c.Request.Context(), tutorID)
	if err != nil {
		h.fail(c, err, "", "Failed to fetch chats")
		return
	}
	c.JSON(http.StatusOK, list)
}

type createChatRequest struct {
	TutorID string `json:"tutorId"`
}

func (h *Handler) createChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.TutorID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tutorId is required"})
		return
	}
	chat, err := h.store.CreateChat(c.Request.Context(), req.TutorID)
	if err != nil {
		h.fail(c, err, "", "Failed to create chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) getChat(c *gin.Context) {
	chat, err := h.store.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "Chat not found", "Failed to fetch chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

type renameChatRequest struct {
	Title string `json:"title"`
}

func (h *Handler) renameChat(c *gin.Context) {
	var req renameChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if err := h.store.RenameChat(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		h.fail(c, err, "Chat not found", "Failed to update chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) deleteChat(c *gin.Context) {
	if err := h.store.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err, "Chat not found", "Failed to delete chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Messages

func (h *Handler) listMessages(c *gin.Context) {
	chatID := strings.TrimSpace(c.Query("chatId"))
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
		return
	}
	msgs, err := h.store.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		h.fail(c, err, "", "Failed to fetch messages")
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) clearMessages(c *gin.Context) {
	chatID := strings.TrimSpace(c.Query("chatId"))
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
		return
	}
	n, err := h.store.ClearMessages(c.Request.Context(), chatID)
	if err != nil {
		h.fail(c, err, "", "Failed to delete messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": n})
}

type sendMessageRequest struct {
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
	TutorID   string `json:"tutorId"`
	Rerun     bool   `json:"rerun"`
	MessageID string `json:"messageId"`
}

// sendMessage streams the tutor reply as raw text. Headers are committed with the first chunk,
// so failures before it can still be reported as JSON.
func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId, content, and tutorId are required"})
		return
	}

	flusher, _ := c.Writer.(http.Flusher)
	started := false
	emit := func(chunk string) error {
		if !started {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	res, err := h.relay.Respond(c.Request.Context(), relay.Request{
		ChatID:         req.ChatID,
		TutorID:        req.TutorID,
		Content:        req.Content,
		Rerun:          req.Rerun,
		RerunMessageID: req.MessageID,
	}, emit)
	if err != nil {
		if started {
			h.log.Error("send message after stream start", zap.String("chat_id", req.ChatID), zap.Error(err))
			return
		}
		notFound := ""
		if errors.Is(err, chats.ErrNotFound) {
			notFound = h.missingTarget(c.Request.Context(), req)
		}
		h.fail(c, err, notFound, "Failed to create message")
		return
	}
	if started || !res.Fallback || res.AssistantMessage == nil {
		return
	}

	msg := res.AssistantMessage
	c.Header("X-Relay-Outcome", string(relay.OutcomeFallback))
	c.JSON(http.StatusOK, gin.H{
		"_id":       msg.ID,
		"chatId":    msg.ChatID,
		"role":      msg.Role,
		"content":   msg.Content,
		"createdAt": msg.CreatedAt,
		"error":     res.ProviderErr.Error(),
	})
}

// missingTarget names the record a failed send could not find.
func (h *Handler) missingTarget(ctx context.Context, req sendMessageRequest) string {
	if _, err := h.store.GetTutor(ctx, req.TutorID); errors.Is(err, chats.ErrNotFound) {
		return "Tutor not found"
	}
	if _, err := h.store.GetChat(ctx, req.ChatID); errors.Is(err, chats.ErrNotFound) {
		return "Chat not found"
	}
	return "Message not found"
}

// Session

func (h *Handler) login(c *gin.Context) {
	state, err := h.auth.NewState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue state failed"})
		return
	}
	h.auth.SetStateCookie(c, state)
	c.Redirect(http.StatusFound, h.oauth.LoginURL(state))
}

func (h *Handler) callback(c *gin.Context) {
	if !h.auth.ConsumeState(c, c.Query("state")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}
	userID, err := h.oauth.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		h.log.Warn("oauth exchange failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login failed"})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.auth.SetSessionCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"userId":     userID,
		"auth_token": authToken,
	})
}

func (h *Handler) logout(c *gin.Context) {
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			h.log.Warn("revoke token", zap.Error(err))
		}
	}
	h.auth.ClearSessionCookies(c)
	c.Status(http.StatusNoContent)
}
