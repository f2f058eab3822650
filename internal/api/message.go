package api

import (
	"context"
	"errors"
	"net/http"

	"go-relay/internal/auth"
	"go-relay/internal/message"
	"go-relay/internal/middleware"
	"go-relay/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// Messenger is the message service as the handlers use it.
type Messenger interface {
	Send(ctx context.Context, senderID, receiverID, content string) (*chat.Message, error)
	Conversation(ctx context.Context, userID, contactID string, page message.Page) ([]chat.Message, error)
	Contacts(ctx context.Context, userID string) ([]chat.Contact, error)
	MarkRead(ctx context.Context, messageID, readerID string) (*chat.Message, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// UsernameLookup resolves contact ids to display names.
type UsernameLookup interface {
	Usernames(ctx context.Context, ids []string) (map[string]string, error)
}

type MessageHandlers struct {
	service Messenger
	users   UsernameLookup
}

func NewMessageHandlers(service Messenger, users UsernameLookup) *MessageHandlers {
	return &MessageHandlers{service: service, users: users}
}

type SendMessageRequest struct {
	Content    string `json:"content" binding:"required" example:"Is Tuesday fine?"`
	ReceiverID string `json:"receiverId" binding:"required" example:"a1b2c3d4"`
}

type ConversationQuery struct {
	ContactID string `form:"contactId" binding:"required"`
	// Limit is a pointer so an explicit limit=0 is validated, not skipped.
	Limit     *int   `form:"limit" binding:"omitempty,min=1,max=200"`
	Before    string `form:"before"`
}

type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
	}
	return id, ok
}

// MessagesHandler serves /api/messages for every verb.
func (h *MessageHandlers) MessagesHandler(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodGet:
		h.GetConversationHandler(c)
	case http.MethodPost:
		h.SendMessageHandler(c)
	default:
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	}
}

// GetConversationHandler returns the messages exchanged with a contact
// @Summary Get conversation
// @Tags Messages
// @Produce json
// @Security CookieAuth
// @Param contactId query string true "Other participant"
// @Param limit query int false "Only the most recent messages (1-200)"
// @Param before query string false "Only messages older than this message id"
// @Success 200 {array} chat.Message "Messages, oldest first"
// @Failure 400 {object} ErrorResponse "Bad request"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Router /api/messages [get]
func (h *MessageHandlers) GetConversationHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var query ConversationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		if c.Query("contactId") == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Contact ID is required"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page := message.Page{Before: query.Before}
	if query.Limit != nil {
		page.Limit = *query.Limit
	}
	messages, err := h.service.Conversation(c.Request.Context(), id.UserID, query.ContactID, page)
	if errors.Is(err, message.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown before message"})
		return
	}
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("load conversation", "contact_id", query.ContactID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// SendMessageHandler stores a message and pushes it to the receiver
// @Summary Send a private message
// @Tags Messages
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body SendMessageRequest true "Message"
// @Success 201 {object} chat.Message "Stored message"
// @Failure 400 {object} ErrorResponse "Bad request"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Router /api/messages [post]
func (h *MessageHandlers) SendMessageHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content and receiverId are required"})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), id.UserID, req.ReceiverID, req.Content)
	if errors.Is(err, message.ErrInvalidMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("send message", "receiver_id", req.ReceiverID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ContactsHandler lists the caller's conversations
// @Summary List contacts
// @Tags Messages
// @Produce json
// @Security CookieAuth
// @Success 200 {array} chat.Contact "Most recent conversation first"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Router /api/messages/contacts [get]
func (h *MessageHandlers) ContactsHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	contacts, err := h.service.Contacts(c.Request.Context(), id.UserID)
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("load contacts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch contacts"})
		return
	}

	if h.users != nil && len(contacts) > 0 {
		ids := lo.Map(contacts, func(ct chat.Contact, _ int) string { return ct.ContactID })
		names, err := h.users.Usernames(c.Request.Context(), ids)
		if err != nil {
			middleware.FromContext(c.Request.Context()).Warn("load contact names", "error", err)
		}
		for i := range contacts {
			contacts[i].Username = names[contacts[i].ContactID]
		}
	}
	if contacts == nil {
		contacts = []chat.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

// MarkReadHandler marks a received message as read
// @Summary Mark message read
// @Tags Messages
// @Produce json
// @Security CookieAuth
// @Param id path string true "Message ID"
// @Success 200 {object} chat.Message "Updated message"
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Failure 404 {object} ErrorResponse "No such message for this receiver"
// @Router /api/messages/{id}/read [put]
func (h *MessageHandlers) MarkReadHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	msg, err := h.service.MarkRead(c.Request.Context(), c.Param("id"), id.UserID)
	if errors.Is(err, message.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("mark read", "message_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update message"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// UnreadCountHandler counts unread messages addressed to the caller
// @Summary Unread count
// @Tags Messages
// @Produce json
// @Security CookieAuth
// @Success 200 {object} UnreadCountResponse
// @Failure 401 {object} ErrorResponse "User not authenticated"
// @Router /api/messages/unread-count [get]
func (h *MessageHandlers) UnreadCountHandler(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), id.UserID)
	if err != nil {
		middleware.FromContext(c.Request.Context()).Error("unread count", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count messages"})
		return
	}
	c.JSON(http.StatusOK, UnreadCountResponse{Count: count})
}
