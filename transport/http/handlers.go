package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// Challenge handles the challenge request. Challenges are anonymous: no
// input is required.
func (h *AuthHandlers) Challenge(c *gin.Context) {
	challenge, err := h.authService.CreateChallenge(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce": challenge.Nonce,
		"msg":   challenge.Message,
	})
}

// Verify handles the signed-challenge verification request
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req struct {
		Message   string `json:"message" binding:"required"`
		Signature []byte `json:"signature_bytes" binding:"required"`
		Address   string `json:"expected_addr" binding:"required"`
		Username  string `json:"username" binding:"required"`
		Nonce     string `json:"nonce" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.authService.VerifyLogin(c.Request.Context(), core.VerifyRequest{
		Message:   req.Message,
		Signature: req.Signature,
		Address:   req.Address,
		Username:  req.Username,
		Nonce:     req.Nonce,
	})
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Authentication failed"

		if errors.Is(err, core.ErrVerificationRejected) {
			statusCode = http.StatusUnauthorized
			errorMsg = "Invalid challenge or signature"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	resp := gin.H{
		"jwt":      result.Token,
		"verified": result.Verified,
	}
	if result.VerificationID != "" {
		resp["verificationId"] = result.VerificationID
	}
	c.JSON(http.StatusOK, resp)
}

// VerificationStatus reports the status of a deferred verification ticket
func (h *AuthHandlers) VerificationStatus(c *gin.Context) {
	verificationID := c.Param("id")

	status, err := h.authService.TicketStatus(c.Request.Context(), verificationID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown verification ticket"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read verification status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing bearer token"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	// Session is set by the auth middleware
	value, exists := c.Get("session")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Session not found in context"})
		return
	}
	session := value.(*core.Session)

	c.JSON(http.StatusOK, gin.H{
		"address":  session.Address,
		"username": session.Username,
		"verified": session.Verified,
	})
}
