package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/metrics"
	"github.com/user/examslots/internal/model"
	"golang.org/x/time/rate"
)

// SubscriptionSource is the part of the store the notifier needs
type SubscriptionSource interface {
	GetActiveSubscriptions(ctx context.Context) ([]*model.Subscription, error)
	TouchNotified(ctx context.Context, id uint, at time.Time) error
}

// Service sends new slot notifications and subscription confirmations
type Service struct {
	subs    SubscriptionSource
	mailer  Mailer
	limiter *rate.Limiter
	baseURL string
	now     func() time.Time
}

// NewService creates a notifier. ratePerSecond bounds outbound sends.
func NewService(subs SubscriptionSource, mailer Mailer, baseURL string, ratePerSecond float64) *Service {
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}
	return &Service{
		subs:    subs,
		mailer:  mailer,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		baseURL: baseURL,
		now:     time.Now,
	}
}

// NotifyNewSlot emails every active subscriber whose filters match slot.
// Failures are logged and never returned; the caller's cycle carries on.
func (s *Service) NotifyNewSlot(ctx context.Context, slot *model.Slot) {
	subs, err := s.subs.GetActiveSubscriptions(ctx)
	if err != nil {
		log.Error().Err(err).Str("slot", slot.SlotKey).Msg("Failed to load subscriptions")
		metrics.RecordError("subscriptions_query")
		return
	}

	sent := 0
	for _, sub := range subs {
		if !MatchesSubscription(slot, sub) {
			continue
		}
		if err := s.notifyOne(ctx, slot, sub); err != nil {
			log.Error().
				Err(err).
				Uint("subscription", sub.ID).
				Str("slot", slot.SlotKey).
				Msg("Failed to send slot notification")
			metrics.RecordNotification("failed")
			if ctx.Err() != nil {
				return
			}
			continue
		}
		metrics.RecordNotification("success")
		sent++
	}

	if sent > 0 {
		log.Info().Str("slot", slot.SlotKey).Int("sent", sent).Msg("Slot notifications sent")
	}
}

func (s *Service) notifyOne(ctx context.Context, slot *model.Slot, sub *model.Subscription) error {
	msg, err := FormatNewSlotEmail(slot, sub, s.baseURL)
	if err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		return err
	}

	if err := s.subs.TouchNotified(ctx, sub.ID, s.now()); err != nil {
		log.Warn().Err(err).Uint("subscription", sub.ID).Msg("Failed to update last notified time")
	}
	return nil
}

// SendConfirmation emails the subscription confirmation with its unsubscribe link
func (s *Service) SendConfirmation(ctx context.Context, sub *model.Subscription) error {
	msg, err := FormatConfirmationEmail(sub, s.baseURL)
	if err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send confirmation: %w", err)
	}
	return nil
}
