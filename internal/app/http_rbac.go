package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"eurobansync/api/internal/auth"
	"eurobansync/api/internal/rbac"
)

const principalKey = "principal"

func principalFrom(c *gin.Context) (rbac.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return rbac.Principal{}, false
	}
	p, ok := value.(rbac.Principal)
	return p, ok
}

// mustPrincipal is only called behind RequireAuth.
func mustPrincipal(c *gin.Context) rbac.Principal {
	p, _ := principalFrom(c)
	return p
}

// RequireAuth resolves the bearer token into a Principal once per request.
func (s *HTTPServer) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		p, err := s.service.ResolvePrincipal(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
				writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			s.fail(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// RequireScreen applies the screen guard of the client router to a data
// endpoint.
func (s *HTTPServer) RequireScreen(screen rbac.Screen) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principalFrom(c)
		state := rbac.AuthState{}
		if ok {
			state.Principal = &p
		}
		decision := rbac.Evaluate(state, string(screen))
		switch decision.Outcome {
		case rbac.OutcomeRender:
			c.Next()
		case rbac.OutcomeSignIn:
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		case rbac.OutcomeRedirect:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":     "ROLE_REDIRECT",
				"error":    "This screen is not available for your role",
				"location": decision.Location,
				"details":  gin.H{"screen": screen, "location": decision.Location},
			})
		default:
			writeError(c, http.StatusForbidden, "FORBIDDEN", "Acceso denegado", gin.H{"screen": screen})
		}
	}
}

// optionalPrincipal resolves the caller when a valid token is present.
func (s *HTTPServer) optionalPrincipal(c *gin.Context) (*rbac.Principal, error) {
	token := auth.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		return nil, nil
	}
	p, err := s.service.ResolvePrincipal(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *HTTPServer) handleSession(c *gin.Context) {
	p, err := s.optionalPrincipal(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, SessionView(*p))
}

func (s *HTTPServer) handleNavigation(c *gin.Context) {
	p, err := s.optionalPrincipal(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rbac.Evaluate(rbac.AuthState{Principal: p}, c.Query("path")))
}

func (s *HTTPServer) handleAssignRole(c *gin.Context) {
	var body struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := bindOptionalJSON(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.service.AssignRole(c.Request.Context(), mustPrincipal(c), body.UserID, body.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleUserRoles(c *gin.Context) {
	result, err := s.service.UserRoles(c.Request.Context(), mustPrincipal(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleOverrideStatus(c *gin.Context) {
	var body struct {
		Status     string `json:"status"`
		RowVersion int64  `json:"rowVersion"`
		Comments   string `json:"comments"`
	}
	if err := bindOptionalJSON(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.service.OverrideStatus(c.Request.Context(), mustPrincipal(c), c.Param("id"), body.Status, DecisionInput{
		Comments:       body.Comments,
		RowVersion:     body.RowVersion,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleReconcile(c *gin.Context) {
	var body struct {
		RowVersion int64 `json:"rowVersion"`
	}
	if err := bindOptionalJSON(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	doc, err := s.service.Reconcile(c.Request.Context(), mustPrincipal(c), c.Param("id"), body.RowVersion)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}
