package api

import (
	"errors"
	"net/http"
	"time"

	"go-relay/internal/auth"
	"go-relay/internal/middleware"
	. "go-relay/pkg/chat"

	"github.com/gin-gonic/gin"
)

type AuthHandlers struct {
	authService  *auth.AuthService
	issuer       *auth.TokenIssuer
	refreshTTL   time.Duration
	cookieSecure bool
}

func NewAuthHandlers(authService *auth.AuthService, issuer *auth.TokenIssuer, refreshTTL time.Duration, cookieSecure bool) *AuthHandlers {
	return &AuthHandlers{
		authService:  authService,
		issuer:       issuer,
		refreshTTL:   refreshTTL,
		cookieSecure: cookieSecure,
	}
}

type UserRegisterInput struct {
	Username string `json:"username" binding:"required" example:"john_doe"`
	Password string `json:"password" binding:"required" example:"securePassword123"`
}

type UserLoginInput struct {
	Username string `json:"username" binding:"required" example:"john_doe"`
	Password string `json:"password" binding:"required" example:"securePassword123"`
}

type UserResponse struct {
	ID       string `json:"id" example:"a1b2c3d4"`
	Username string `json:"username" example:"john_doe"`
}

type AuthResponse struct {
	Message string       `json:"message" example:"Register successful"`
	User    UserResponse `json:"user"`
}

type ErrorResponse struct {
	Error string `json:"error" example:"username cannot be empty"`
}

type MessageResponse struct {
	Message string `json:"message" example:"Logged out"`
}

func (h *AuthHandlers) setTokenCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.TokenCookie, token, int(h.issuer.TTL().Seconds()), "/", "", h.cookieSecure, true)
}

func (h *AuthHandlers) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.RefreshTokenCookie, token, int(h.refreshTTL.Seconds()), "/api", "", h.cookieSecure, true)
}

// issueSession sets both cookies for user and writes the auth response.
func (h *AuthHandlers) issueSession(c *gin.Context, status int, message string, user *User) {
	token, err := h.issuer.Generate(user.ID, user.Username)
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("token generation failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token generation failed"})
		return
	}
	refreshToken, err := h.authService.CreateRefreshToken(c.Request.Context(), user.ID)
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("refresh token generation failed", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Refresh token generation failed"})
		return
	}

	h.setTokenCookie(c, token)
	h.setRefreshCookie(c, refreshToken)
	c.JSON(status, AuthResponse{
		Message: message,
		User:    UserResponse{ID: user.ID, Username: user.Username},
	})
}

// RegisterHandler registers a new user
// @Summary Register a new user
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body UserRegisterInput true "Registration request"
// @Success 201 {object} AuthResponse "User registered successfully"
// @Failure 400 {object} ErrorResponse "Bad request"
// @Failure 409 {object} ErrorResponse "Username taken"
// @Router /register [post]
func (h *AuthHandlers) RegisterHandler(c *gin.Context) {
	var input UserRegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.authService.Register(c.Request.Context(), input.Username, input.Password)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, auth.ErrEmptyUsername), errors.Is(err, auth.ErrEmptyPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		middleware.FromContext(c.Request.Context()).Error("register failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}

	h.issueSession(c, http.StatusCreated, "Register successful", user)
}

// LoginHandler authenticates a user
// @Summary Login user
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body UserLoginInput true "Login request"
// @Success 200 {object} AuthResponse "User logged in successfully"
// @Failure 400 {object} ErrorResponse "Bad request"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Router /login [post]
func (h *AuthHandlers) LoginHandler(c *gin.Context) {
	var input UserLoginInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.authService.Login(c.Request.Context(), input.Username, input.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("login failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	h.issueSession(c, http.StatusOK, "Login successful", user)
}

// LogoutHandler logs out the user
// @Summary Logout user
// @Tags Authentication
// @Produce json
// @Security CookieAuth
// @Success 200 {object} MessageResponse "User logged out successfully"
// @Router /api/logout [post]
func (h *AuthHandlers) LogoutHandler(c *gin.Context) {
	refreshToken, err := c.Cookie(auth.RefreshTokenCookie)
	if err == nil && refreshToken != "" {
		if err := h.authService.RevokeRefreshToken(c.Request.Context(), refreshToken); err != nil {
			middleware.FromContext(c.Request.Context()).Warn("revoke refresh token", "error", err)
		}
	}

	c.SetCookie(auth.TokenCookie, "", -1, "/", "", h.cookieSecure, true)
	c.SetCookie(auth.RefreshTokenCookie, "", -1, "/api", "", h.cookieSecure, true)

	c.JSON(http.StatusOK, MessageResponse{Message: "Logged out"})
}

// RefreshTokenHandler refreshes the JWT token
// @Summary Refresh JWT token
// @Tags Authentication
// @Produce json
// @Security CookieAuth
// @Success 200 {object} MessageResponse "Token refreshed successfully"
// @Failure 401 {object} ErrorResponse "Invalid or missing refresh token"
// @Router /api/refresh_token [post]
func (h *AuthHandlers) RefreshTokenHandler(c *gin.Context) {
	refreshToken, err := c.Cookie(auth.RefreshTokenCookie)
	if err != nil || refreshToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No refresh token"})
		return
	}

	user, err := h.authService.ValidateRefreshToken(c.Request.Context(), refreshToken)
	if errors.Is(err, auth.ErrInvalidRefreshToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("validate refresh token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh token"})
		return
	}

	newJWT, err := h.issuer.Generate(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	h.setTokenCookie(c, newJWT)
	c.JSON(http.StatusOK, MessageResponse{Message: "Token refreshed"})
}
