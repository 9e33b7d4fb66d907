package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"wbuoj/internal/judge/service"
	appErr "wbuoj/pkg/errors"
	"wbuoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AdminController exposes the operator surface: queue and worker state,
// manifest cache invalidation and rejudging.
type AdminController struct {
	judgeService *service.JudgeService
}

// NewAdminController creates an AdminController.
func NewAdminController(judgeService *service.JudgeService) *AdminController {
	return &AdminController{judgeService: judgeService}
}

// Status returns queue depth and the live worker table.
func (h *AdminController) Status(c *gin.Context) {
	stats, err := h.judgeService.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// ClearFiles drops the cached file manifest for a problem.
func (h *AdminController) ClearFiles(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	if err := h.judgeService.ClearFileCache(c.Request.Context(), problemID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Rejudge resets a submission and puts it back on the queue.
func (h *AdminController) Rejudge(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	if err := h.judgeService.Rejudge(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submission_id": submissionID})
}

type adminClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// AdminAuth guards the operator surface with the platform's HS256 access
// tokens and requires the admin role.
func AdminAuth(jwtSecret, jwtIssuer string) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if raw == "" || len(secret) == 0 {
			response.AbortWithErrorCode(c, appErr.TokenInvalid, "")
			return
		}

		claims, err := parseAdminToken(raw, secret, jwtIssuer)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		if claims.Role != "admin" {
			response.AbortWithErrorCode(c, appErr.Forbidden, "")
			return
		}
		c.Set("user_id", claims.Subject)
		c.Next()
	}
}

func parseAdminToken(raw string, secret []byte, issuer string) (*adminClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &adminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErr.New(appErr.TokenExpired)
		}
		return nil, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*adminClaims)
	if !ok || !parsed.Valid {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if issuer != "" && claims.Issuer != issuer {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	return claims, nil
}
