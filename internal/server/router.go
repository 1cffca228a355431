package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/realtime"
	"github.com/parleychat/parley/internal/users"
)

const userIDContextKey = "parley_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingChatService   = errors.New("chat service dependency required")
	errMissingChannelAuth   = errors.New("channel authorizer dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// AccessTokenManager issues and validates API access tokens.
type AccessTokenManager interface {
	IssueAccessToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface. Dispatcher may be nil when the
// realtime backend is disabled; the websocket endpoint then reports
// unavailability instead of the process holding ambient transport state.
type Dependencies struct {
	TokenManager AccessTokenManager
	Users        *users.Service
	Chat         *chat.Service
	Channels     *realtime.ChannelAuthorizer
	Dispatcher   *realtime.Dispatcher
	Presence     presence.Tracker
	Logger       *zap.Logger
}

// NewHTTPHandler constructs the gin router with all API routes mounted.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Chat == nil {
		return nil, errMissingChatService
	}
	if deps.Channels == nil {
		return nil, errMissingChannelAuth
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		users:      deps.Users,
		chat:       deps.Chat,
		channels:   deps.Channels,
		dispatcher: deps.Dispatcher,
		presence:   deps.Presence,
		logger:     logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users", handler.handleListUsers)
	protected.GET("/conversations", handler.handleListConversations)
	protected.POST("/conversations", handler.handleCreateConversation)
	protected.GET("/conversations/:id", handler.handleGetConversation)
	protected.DELETE("/conversations/:id", handler.handleRemoveConversation)
	protected.POST("/conversations/:id/seen", handler.handleMarkSeen)
	protected.POST("/conversations/:id/messages", handler.handleSendMessage)
	protected.POST("/conversations/cleanup", handler.handleCleanup)
	protected.POST("/realtime/auth", handler.handleChannelAuth)
	protected.GET("/realtime/connect", handler.handleRealtimeConnect)
	protected.POST("/presence/heartbeat", handler.handleHeartbeat)
	protected.GET("/presence", handler.handleActiveUsers)

	return router, nil
}

type httpHandler struct {
	tokens     AccessTokenManager
	users      *users.Service
	chat       *chat.Service
	channels   *realtime.ChannelAuthorizer
	dispatcher *realtime.Dispatcher
	presence   presence.Tracker
	logger     *zap.Logger
}

type registerRequestPayload struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Register(c.Request.Context(), request.Email, request.Name, request.Password)
	if errors.Is(err, users.ErrInvalidRegistration) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if errors.Is(err, users.ErrEmailInUse) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_in_use"})
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, user)
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	token, expiresIn, err := h.tokens.IssueAccessToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	accounts, err := h.users.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (h *httpHandler) handleListConversations(c *gin.Context) {
	currentUserID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	conversations, err := h.chat.ListConversations(c.Request.Context(), currentUserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

type createConversationPayload struct {
	UserID  string   `json:"userId"`
	IsGroup bool     `json:"isGroup"`
	Members []string `json:"members"`
	Name    string   `json:"name"`
}

func (h *httpHandler) handleCreateConversation(c *gin.Context) {
	currentUserID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request createConversationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if request.IsGroup {
		memberIDs := make([]chat.UserID, 0, len(request.Members))
		for _, raw := range request.Members {
			memberID, err := chat.NewUserID(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_member"})
				return
			}
			memberIDs = append(memberIDs, memberID)
		}
		conversation, err := h.chat.CreateGroup(c.Request.Context(), currentUserID, memberIDs, request.Name)
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, conversation)
		return
	}

	otherUserID, err := chat.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	conversation, err := h.chat.ResolveOneToOne(c.Request.Context(), currentUserID, otherUserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *httpHandler) handleGetConversation(c *gin.Context) {
	currentUserID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := chat.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	conversation, err := h.chat.GetConversation(c.Request.Context(), currentUserID, conversationID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *httpHandler) handleRemoveConversation(c *gin.Context) {
	currentUserID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := chat.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	conversation, err := h.chat.RemoveConversation(c.Request.Context(), currentUserID, conversationID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *httpHandler) handleMarkSeen(c *gin.Context) {
	currentUserID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := chat.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.chat.MarkLatestSeen(c.Request.Context(), currentUserID, conversationID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

type sendMessagePayload struct {
	Body  string `json:"body"`
	Image string `json:"image"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	currentUserID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := chat.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.chat.SendMessage(c.Request.Context(), currentUserID, conversationID, request.Body, request.Image)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *httpHandler) handleCleanup(c *gin.Context) {
	currentUserID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	result, err := h.chat.ReconcileOneToOne(c.Request.Context(), currentUserID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type channelAuthPayload struct {
	ConnectionID string `json:"connection_id"`
	ChannelName  string `json:"channel_name"`
}

func (h *httpHandler) handleChannelAuth(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request channelAuthPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	credential, err := h.channels.Authorize(c.Request.Context(), request.ConnectionID, request.ChannelName, userID)
	switch {
	case errors.Is(err, realtime.ErrMissingConnectionID), errors.Is(err, realtime.ErrMissingChannelName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	case errors.Is(err, realtime.ErrChannelForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	case err != nil:
		h.logger.Error("channel authorization failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credential": credential})
}

func (h *httpHandler) handleHeartbeat(c *gin.Context) {
	if h.presence == nil {
		c.Status(http.StatusNoContent)
		return
	}
	userID := c.GetString(userIDContextKey)
	if err := h.presence.Heartbeat(c.Request.Context(), userID); err != nil {
		h.logger.Warn("presence heartbeat failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleActiveUsers(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusOK, gin.H{"active": []string{}})
		return
	}
	active, err := h.presence.ActiveUsers(c.Request.Context())
	if err != nil {
		h.logger.Warn("presence query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if active == nil {
		active = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (h *httpHandler) currentUserID(c *gin.Context) (chat.UserID, bool) {
	currentUserID, err := chat.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return currentUserID, true
}

// respondServiceError maps chat error kinds to responses. Unexpected
// failures surface as an opaque 500; detail stays in the log.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case chat.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case chat.IsAuthorization(err):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case chat.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error("chat operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		// Browsers cannot set headers on websocket upgrades.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
