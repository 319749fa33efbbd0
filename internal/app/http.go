package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/authpw"
	"eurobansync/api/internal/logger"
	"eurobansync/api/internal/preview"
	"eurobansync/api/internal/rbac"
	"eurobansync/api/internal/util"
	"eurobansync/api/internal/workflow"
)

const headerRequestID = "X-Request-Id"

type HTTPServer struct {
	service    *Service
	log        *logger.Logger
	corsOrigin string
}

func NewHTTPServer(service *Service, log *logger.Logger, corsOrigin string) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPServer{service: service, log: log.With("component", "http"), corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.Router()
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("eurobansync-api"))
	r.Use(s.requestID())
	r.Use(s.accessLog())
	r.Use(s.cors())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.HEAD("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)

	api.POST("/auth/signup", s.handleSignUp)
	api.POST("/auth/signin", s.handleSignIn)
	api.GET("/session", s.handleSession)
	api.GET("/navigation", s.handleNavigation)

	protected := api.Group("/")
	protected.Use(s.RequireAuth())
	{
		screens := protected.Group("/screens")
		screens.GET("/dashboard", s.RequireScreen(rbac.ScreenDashboard), s.handleDashboard)
		screens.GET("/upload", s.RequireScreen(rbac.ScreenUpload), s.handleUploadScreen)
		screens.GET("/approvals", s.RequireScreen(rbac.ScreenApprovals), s.handleApprovalsScreen)
		screens.GET("/internal-docs", s.RequireScreen(rbac.ScreenInternalDocs), s.handleInternalDocs)
		protected.GET("/internal-docs/search", s.RequireScreen(rbac.ScreenInternalDocs), s.handleSearch)

		protected.POST("/documents", s.handleCreateDocument)
		protected.POST("/documents/upload", s.handleUpload)
		protected.GET("/documents/:id", s.handleDocument)
		protected.GET("/documents/:id/versions", s.handleVersions)
		protected.GET("/documents/:id/versions/:version/file", s.handleVersionFile)
		protected.GET("/documents/:id/preview", s.handlePreview)
		protected.GET("/documents/:id/export.pdf", s.handleExport)
		protected.POST("/documents/:id/approve", s.handleDecision(s.service.Approve))
		protected.POST("/documents/:id/request-changes", s.handleDecision(s.service.RequestChanges))
		protected.POST("/documents/:id/reject", s.handleDecision(s.service.Reject))

		protected.GET("/notifications", s.handleNotifications)
		protected.POST("/notifications/:id/read", s.handleNotificationRead)

		admin := protected.Group("/admin")
		admin.POST("/roles", s.handleAssignRole)
		admin.GET("/users/:id/roles", s.handleUserRoles)
		admin.PATCH("/documents/:id/status", s.handleOverrideStatus)
		admin.POST("/documents/:id/reconcile", s.handleReconcile)
	}

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	return r
}

func (s *HTTPServer) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = util.NewID("req")
		}
		c.Set("request_id", reqID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

func (s *HTTPServer) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []interface{}{
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(started).Milliseconds(),
		}
		if p, ok := principalFrom(c); ok {
			fields = append(fields, "user_id", p.ID)
		}
		switch {
		case status >= 500:
			s.log.Error("http request", fields...)
		case status >= 400:
			s.log.Warn("http request", fields...)
		default:
			s.log.Info("http request", fields...)
		}
	}
}

func (s *HTTPServer) cors() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Idempotency-Key", headerRequestID},
		ExposeHeaders: []string{headerRequestID, "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	origin := strings.TrimSpace(s.corsOrigin)
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		for _, o := range strings.Split(origin, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, o)
			}
		}
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	body := gin.H{"code": code, "error": message}
	if details != nil {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= 500 {
		s.log.Error("request failed", "request_id", c.GetString("request_id"), "path", c.FullPath(), "error", err)
	}
	writeError(c, status, code, message, details)
}

// bindOptionalJSON decodes the body when there is one.
func bindOptionalJSON(c *gin.Context, target any) error {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid JSON body")
	}
	return nil
}

func versionParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "latest" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperr.Validation("version must be a positive integer")
	}
	return n, nil
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := gin.H{"database": gin.H{"status": "ok"}}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = gin.H{"status": "error", "error": err.Error()}
	}
	c.JSON(statusCode, gin.H{"ok": status == "ready", "status": status, "checks": checks})
}

func (s *HTTPServer) handleSignUp(c *gin.Context) {
	if !s.service.DevAuthEnabled() {
		writeError(c, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}
	var body authpw.SignUpRequest
	if err := bindOptionalJSON(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	sess, err := s.service.SignUp(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse(sess))
}

func (s *HTTPServer) handleSignIn(c *gin.Context) {
	if !s.service.DevAuthEnabled() {
		writeError(c, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}
	var body authpw.SignInRequest
	if err := bindOptionalJSON(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	sess, err := s.service.SignIn(c.Request.Context(), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(sess))
}

func sessionResponse(sess authpw.Session) gin.H {
	return gin.H{
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt.UTC().Format(time.RFC3339),
		"user": gin.H{
			"id":       sess.Profile.ID,
			"email":    sess.Profile.Email,
			"fullName": sess.Profile.FullName,
		},
	}
}

func (s *HTTPServer) handleDashboard(c *gin.Context) {
	s.respond(c, func(ctx context.Context, p rbac.Principal) (any, error) { return s.service.Dashboard(ctx, p) })
}

func (s *HTTPServer) handleUploadScreen(c *gin.Context) {
	s.respond(c, func(ctx context.Context, p rbac.Principal) (any, error) { return s.service.UploadScreen(ctx, p) })
}

func (s *HTTPServer) handleApprovalsScreen(c *gin.Context) {
	s.respond(c, func(ctx context.Context, p rbac.Principal) (any, error) { return s.service.Approvals(ctx, p) })
}

func (s *HTTPServer) handleInternalDocs(c *gin.Context) {
	s.respond(c, func(ctx context.Context, p rbac.Principal) (any, error) { return s.service.InternalDocs(ctx, p) })
}

// respond runs fn for the authenticated caller and writes its result as JSON.
func (s *HTTPServer) respond(c *gin.Context, fn func(ctx context.Context, p rbac.Principal) (any, error)) {
	p := mustPrincipal(c)
	result, err := fn(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleSearch(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	resp := s.service.SearchApproved(c.Request.Context(), mustPrincipal(c), c.Query("q"), c.Query("documentType"), limit, offset)
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleCreateDocument(c *gin.Context) {
	var body CreateDocumentInput
	if err := bindOptionalJSON(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	doc, err := s.service.CreateDraft(c.Request.Context(), mustPrincipal(c), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": doc})
}

func (s *HTTPServer) handleUpload(c *gin.Context) {
	if limit := s.service.cfg.MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)
	}
	input := UploadInput{
		Title:          c.PostForm("title"),
		Description:    c.PostForm("description"),
		DocumentType:   c.PostForm("documentType"),
		Notes:          c.PostForm("notes"),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	}
	fh, err := c.FormFile("file")
	switch {
	case err == nil:
		file, err := fh.Open()
		if err != nil {
			s.fail(c, apperr.Validation("could not read the uploaded file"))
			return
		}
		defer file.Close()
		input.FileName = fh.Filename
		input.Size = fh.Size
		input.Content = file
	case errors.Is(err, http.ErrMissingFile):
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(c, apperr.Validation("file is too large"))
			return
		}
		s.fail(c, apperr.Validation("invalid multipart form"))
		return
	}

	result, err := s.service.Upload(c.Request.Context(), mustPrincipal(c), input)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusCreated
	if replayed, _ := result["replayed"].(bool); replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *HTTPServer) handleDocument(c *gin.Context) {
	s.respond(c, func(ctx context.Context, p rbac.Principal) (any, error) {
		return s.service.DocumentDetail(ctx, p, c.Param("id"))
	})
}

func (s *HTTPServer) handleVersions(c *gin.Context) {
	s.respond(c, func(ctx context.Context, p rbac.Principal) (any, error) {
		versions, err := s.service.Versions(ctx, p, c.Param("id"))
		if err != nil {
			return nil, err
		}
		return gin.H{"versions": versions}, nil
	})
}

func (s *HTTPServer) handleVersionFile(c *gin.Context) {
	n, err := versionParam(c.Param("version"))
	if err != nil {
		s.fail(c, err)
		return
	}
	rc, version, err := s.service.OpenVersionFile(c.Request.Context(), mustPrincipal(c), c.Param("id"), n)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, version.FileSize, workflow.ContentType(version.FileName), rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", version.FileName),
	})
}

func (s *HTTPServer) handlePreview(c *gin.Context) {
	n, err := versionParam(c.Query("version"))
	if err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.service.Preview(c.Request.Context(), mustPrincipal(c), c.Param("id"), n)
	if err != nil {
		if apperr.Is(err, apperr.KindDecodeFailure) {
			status, code, message, details := mapError(err)
			c.AbortWithStatusJSON(status, gin.H{
				"code":    code,
				"error":   message,
				"details": details,
				"preview": preview.Table{Headers: []string{}, Rows: [][]string{}},
			})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleExport(c *gin.Context) {
	n, err := versionParam(c.Query("version"))
	if err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.service.Export(c.Request.Context(), mustPrincipal(c), c.Param("id"), n)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.MimeType, result.Data)
}

type decisionFunc func(ctx context.Context, p rbac.Principal, documentID string, in DecisionInput) (map[string]any, error)

func (s *HTTPServer) handleDecision(decide decisionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body DecisionInput
		if err := bindOptionalJSON(c, &body); err != nil {
			s.fail(c, err)
			return
		}
		body.IdempotencyKey = c.GetHeader("Idempotency-Key")
		result, err := decide(c.Request.Context(), mustPrincipal(c), c.Param("id"), body)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *HTTPServer) handleNotifications(c *gin.Context) {
	unread := c.Query("unread") == "true"
	limit, _ := strconv.Atoi(c.Query("limit"))
	s.respond(c, func(ctx context.Context, p rbac.Principal) (any, error) {
		items, err := s.service.Notifications(ctx, p, unread, limit)
		if err != nil {
			return nil, err
		}
		return gin.H{"notifications": items}, nil
	})
}

func (s *HTTPServer) handleNotificationRead(c *gin.Context) {
	if err := s.service.MarkNotificationRead(c.Request.Context(), mustPrincipal(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
