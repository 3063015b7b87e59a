package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/crawler"
	"github.com/user/examslots/internal/model"
	"github.com/user/examslots/internal/store"
)

// SubscribeRequest is the body of POST /api/subscribe
type SubscribeRequest struct {
	Email            string  `json:"email"             binding:"required,email"`
	FilterRegion     *int    `json:"filter_region"     binding:"omitempty,min=1"`
	FilterTown       *string `json:"filter_town"       binding:"omitempty,max=100"`
	FilterExamType   *string `json:"filter_exam_type"  binding:"omitempty,examtype"`
	FilterTranslator *bool   `json:"filter_translator"`
	FilterCategories *string `json:"filter_categories" binding:"omitempty,max=100"`
}

// handleSubscribe stores a subscription and sends the confirmation email.
// A failed confirmation is logged; the subscription stays.
func (s *Server) handleSubscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err, subscribeMessages, "Invalid request body")})
		return
	}

	sub := req.toSubscription()

	ctx := c.Request.Context()
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe"})
		return
	}

	log.Info().Uint("id", sub.ID).Msg("Subscription created")

	if s.confirmer != nil {
		if err := s.confirmer.SendConfirmation(ctx, sub); err != nil {
			log.Error().Err(err).Uint("id", sub.ID).Msg("Failed to send confirmation email")
		}
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Subscribed successfully"})
}

var subscribeMessages = map[string]string{
	"Email":            "Valid email required",
	"FilterRegion":     "filter_region must be a positive number",
	"FilterExamType":   "filter_exam_type must be driving or theory",
	"FilterTown":       "filter_town is too long",
	"FilterCategories": "filter_categories is too long",
}

// toSubscription builds an active subscription from a bound request
func (r *SubscribeRequest) toSubscription() *model.Subscription {
	sub := &model.Subscription{
		Email:            r.Email,
		FilterRegion:     r.FilterRegion,
		FilterTown:       nonEmpty(r.FilterTown),
		FilterTranslator: r.FilterTranslator,
		FilterCategories: categoryFilter(r.FilterCategories),
		Active:           true,
		UnsubscribeToken: uuid.NewString(),
	}

	if et := nonEmpty(r.FilterExamType); et != nil {
		if examType, ok := model.ParseExamType(*et); ok {
			sub.FilterExamType = &examType
		}
	}

	return sub
}

// handleUnsubscribe deactivates the subscription owning the token
func (s *Server) handleUnsubscribe(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token required"})
		return
	}

	err := s.store.DeactivateSubscription(c.Request.Context(), token)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed successfully"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unsubscribe"})
	}
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// categoryFilter normalizes a typed category filter the way slot categories are stored
func categoryFilter(s *string) *string {
	if s == nil {
		return nil
	}
	return nonEmpty(ptr(crawler.NormalizeCategories(*s)))
}

func ptr(s string) *string { return &s }
