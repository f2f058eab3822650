package api

import (
	"net/http"
	"strconv"
	"strings"

	u "go-relay/internal/user"
	"go-relay/internal/middleware"
	"go-relay/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type UserHandlers struct {
	service *u.UserService
}

func NewUserHandlers(service *u.UserService) *UserHandlers {
	return &UserHandlers{service: service}
}

type UserSearchResult struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type UsersSearchResponse struct {
	Users []UserSearchResult `json:"users"`
	Total int64              `json:"total"`
}

// MeHandler returns the caller
// @Summary Current user
// @Tags Users
// @Produce json
// @Security CookieAuth
// @Success 200 {object} UserResponse
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Router /api/users/me [get]
func (h *UserHandlers) MeHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, UserResponse{ID: id.UserID, Username: id.Username})
}

// SearchUsersHandler searches for users to message
// @Summary Search users
// @Description Search for users by username (partial matching)
// @Tags Users
// @Produce json
// @Security CookieAuth
// @Param q query string true "Search query (minimum 2 characters)"
// @Param limit query int false "Number of results to return (default: 20, max: 50)"
// @Success 200 {object} UsersSearchResponse "Users found"
// @Failure 400 {object} ErrorResponse "Bad request - invalid query"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Router /api/users/search [get]
func (h *UserHandlers) SearchUsersHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	query := strings.TrimSpace(c.Query("q"))
	if len(query) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Search query is required"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(u.DefaultSearchLimit)))
	if err != nil {
		limit = u.DefaultSearchLimit
	}

	users, total, err := h.service.Search(c.Request.Context(), id.UserID, query, limit)
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("search users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search users"})
		return
	}

	c.JSON(http.StatusOK, UsersSearchResponse{
		Users: lo.Map(users, func(user chat.User, _ int) UserSearchResult {
			return UserSearchResult{ID: user.ID, Username: user.Username}
		}),
		Total: total,
	})
}
