package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatdeck/internal/auth"
	"chatdeck/internal/metrics"
	"chatdeck/internal/models"
	"chatdeck/internal/redis"
	"chatdeck/internal/service/chat"
	"chatdeck/internal/service/prompt"
	"chatdeck/internal/storage"
)

const (
	modelsCacheKey = "models:list"
	modelsCacheTTL = time.Minute
)

// InferenceClient is the surface of the llm client the handler needs.
type InferenceClient interface {
	ListModels(ctx context.Context) ([]string, error)
	Complete(ctx context.Context, model string, transcript []models.Message) (string, error)
	DefaultModel() string
}

// Handler wires HTTP routes to the chat and prompt services.
type Handler struct {
	chat      *chat.Service
	prompts   *prompt.Service
	inference InferenceClient
	auth      *auth.Service
	cache     *redis.Client
}

// NewHandler constructs a Handler instance.
func NewHandler(chatSvc *chat.Service, promptSvc *prompt.Service, inference InferenceClient, authSvc *auth.Service, cache *redis.Client) *Handler {
	return &Handler{
		chat:      chatSvc,
		prompts:   promptSvc,
		inference: inference,
		auth:      authSvc,
		cache:     cache,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(cors.Default())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.POST("/login", h.login)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	authed.POST("/logout", h.logout)
	authed.GET("/me", h.me)
	authed.GET("/models", h.listModels)

	authed.GET("/sessions", h.listSessions)
	authed.POST("/sessions", h.createSession)
	authed.GET("/sessions/:id", h.getSession)
	authed.PATCH("/sessions/:id", h.renameSession)
	authed.DELETE("/sessions/:id", h.deleteSession)
	authed.POST("/sessions/:id/messages", h.sendMessage)

	authed.GET("/prompts", h.listPrompts)
	authed.POST("/prompts", h.createPrompt)
	authed.PUT("/prompts/:name", h.updatePrompt)
	authed.DELETE("/prompts/:name", h.deletePrompt)
	authed.GET("/prompts/:name/export", h.exportPrompt)
	authed.GET("/export/prompts", h.exportAllPrompts)
	authed.POST("/prompts/import", h.importPrompts)
}

func (h *Handler) authorizedUser(c *gin.Context) (*models.User, bool) {
	user, ok := auth.UserFromContext(c)
	if !ok || user.Username == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return user, true
}

// statusForError maps domain error kinds to HTTP statuses. Everything here
// is recoverable by the user retrying the action.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, models.ErrMalformedTemplate):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrModelUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	case storage.IsUnavailable(err):
		// The store died after startup; the query error carries the driver's
		// connection failure rather than the startup sentinel.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	authToken, err := h.auth.IssueToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"username":   user.Username,
		"name":       user.Name,
		"role":       user.Role,
		"auth_token": authToken,
	})
}

func (h *Handler) logout(c *gin.Context) {
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) listModels(c *gin.Context) {
	ctx := c.Request.Context()
	if cached, err := h.cache.Get(ctx, modelsCacheKey); err == nil {
		var names []string
		if err := json.Unmarshal([]byte(cached), &names); err == nil {
			c.JSON(http.StatusOK, gin.H{"models": names, "default": h.inference.DefaultModel()})
			return
		}
	}
	names, err := h.inference.ListModels(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	if data, err := json.Marshal(names); err == nil {
		_ = h.cache.Set(ctx, modelsCacheKey, data, modelsCacheTTL)
	}
	c.JSON(http.StatusOK, gin.H{"models": names, "default": h.inference.DefaultModel()})
}

func (h *Handler) listSessions(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	sessions, err := h.chat.ListSessions(c.Request.Context(), user.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	if sessions == nil {
		sessions = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) createSession(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	session, err := h.chat.CreateSession(c.Request.Context(), user, req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	metrics.SessionsCreatedTotal.Inc()
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) getSession(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	session, messages, err := h.chat.GetSessionWithMessages(c.Request.Context(), user.Username, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if messages == nil {
		messages = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "messages": messages})
}

func (h *Handler) renameSession(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.chat.RenameSession(c.Request.Context(), user.Username, c.Param("id"), req.Title); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSession(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	if err := h.chat.DeleteSession(c.Request.Context(), user, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// sendMessage runs one chat turn: expand a template command, append the user
// message, call inference with the full transcript, then append the reply.
// When inference fails, no assistant message is stored and the error goes
// back to the user.
func (h *Handler) sendMessage(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessionID := c.Param("id")
	ctx := c.Request.Context()

	content, err := h.prompts.Expand(ctx, req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}

	userMsg, err := h.chat.AppendMessage(ctx, user.Username, models.Message{
		SessionID: sessionID,
		Role:      models.MessageRoleUser,
		Content:   content,
		Author:    user.Name,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	_, transcript, err := h.chat.GetSessionWithMessages(ctx, user.Username, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	history := make([]models.Message, len(transcript))
	for i, m := range transcript {
		history[i] = *m
	}

	start := time.Now()
	reply, err := h.inference.Complete(ctx, req.Model, history)
	metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues(completionResult(err)).Inc()
		h.fail(c, err)
		return
	}
	metrics.CompletionsTotal.WithLabelValues(metrics.ResultOK).Inc()

	aiMsg, err := h.chat.AppendMessage(ctx, user.Username, models.Message{
		SessionID: sessionID,
		Role:      models.MessageRoleAssistant,
		Content:   reply,
		Author:    "Assistant",
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_message": userMsg,
		"ai_message":   aiMsg,
	})
}

func completionResult(err error) string {
	switch {
	case errors.Is(err, models.ErrModelUnavailable):
		return metrics.ResultUnavailable
	case errors.Is(err, models.ErrTimeout):
		return metrics.ResultTimeout
	default:
		return metrics.ResultError
	}
}

func (h *Handler) listPrompts(c *gin.Context) {
	if _, ok := h.authorizedUser(c); !ok {
		return
	}
	prompts, err := h.prompts.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if prompts == nil {
		prompts = make([]models.PromptTemplate, 0)
	}
	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}

type promptRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *Handler) createPrompt(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := h.prompts.Create(c.Request.Context(), user, req.Title, req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updatePrompt(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := h.prompts.Update(c.Request.Context(), user, "/"+c.Param("name"), req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deletePrompt(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	if err := h.prompts.Delete(c.Request.Context(), user, "/"+c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) exportPrompt(c *gin.Context) {
	if _, ok := h.authorizedUser(c); !ok {
		return
	}
	name := c.Param("name")
	data, err := h.prompts.Export(c.Request.Context(), "/"+name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".json"))
	c.Data(http.StatusOK, "application/json", data)
}

func (h *Handler) exportAllPrompts(c *gin.Context) {
	if _, ok := h.authorizedUser(c); !ok {
		return
	}
	data, err := h.prompts.ExportAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="prompts_export.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

const maxImportBytes = 1 << 20 // 1 MB

// importPrompts accepts either a multipart upload under the "file" field or
// a raw JSON body.
func (h *Handler) importPrompts(c *gin.Context) {
	user, ok := h.authorizedUser(c)
	if !ok {
		return
	}
	var data []byte
	if file, err := c.FormFile("file"); err == nil {
		if file.Size > maxImportBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
			return
		}
		data, err = io.ReadAll(io.LimitReader(f, maxImportBytes))
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
			return
		}
	} else {
		var err error
		data, err = io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
		if err != nil || len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "import payload required"})
			return
		}
	}
	imported, err := h.prompts.Import(c.Request.Context(), user, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": len(imported), "prompts": imported})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
