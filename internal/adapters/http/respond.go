package http

import (
	"net/http"

	"github.com/dkeye/voicestage/internal/domain"
	"github.com/gin-gonic/gin"
)

const codeBadRequest = "BAD_REQUEST"

func statusOf(code domain.Code) int {
	switch code {
	case domain.CodeAuth:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict, domain.CodeSeatFull:
		return http.StatusConflict
	case domain.CodeNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	c.JSON(statusOf(code), gin.H{"ok": false, "error": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": codeBadRequest, "message": msg})
}

func ok(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["ok"] = true
	c.JSON(http.StatusOK, body)
}
