package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/events"
)

// Router dispatches messages by event type. Types without a route are acknowledged and dropped.
type Router struct {
	routes map[string]Handler
	logger log.FieldLogger
}

// NewRouter constructs an empty Router.
func NewRouter(logger log.FieldLogger) *Router {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Router{routes: make(map[string]Handler), logger: logger}
}

// Route registers h for eventType.
func (r *Router) Route(eventType string, h Handler) *Router {
	r.routes[eventType] = h
	return r
}

// Handle implements Handler.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	h, ok := r.routes[msg.EventType]
	if !ok {
		r.logger.WithField("event_type", msg.EventType).Debug("no route for event type")
		return nil
	}
	return h.Handle(ctx, msg)
}

// ProgressService is the slice of domain.Service the progress handler drives.
type ProgressService interface {
	ProcessActivity(ctx context.Context, userID, activityDate string) (domain.ProgressResult, error)
}

// ProgressHandler advances streaks and evaluates achievements for activity.logged events.
type ProgressHandler struct {
	service ProgressService
	logger  log.FieldLogger
}

// NewProgressHandler constructs a ProgressHandler.
func NewProgressHandler(service ProgressService, logger log.FieldLogger) *ProgressHandler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ProgressHandler{service: service, logger: logger}
}

// Handle implements Handler. Validation failures are poison; a partial unlock is logged and
// acknowledged because a later activity re-evaluates the missing unlocks.
func (h *ProgressHandler) Handle(ctx context.Context, msg Message) error {
	var payload events.ActivityLogged
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decode %s: %s", ErrPoisonMessage, msg.EventType, err)
	}

	result, err := h.service.ProcessActivity(ctx, payload.UserID, payload.ActivityDate)
	var partial *domain.PartialUnlockError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fmt.Errorf("%w: %s", ErrPoisonMessage, err)
	case errors.As(err, &partial):
		h.logger.WithFields(log.Fields{
			"user_id":         partial.UserID,
			"achievement_ids": partial.AchievementIDs,
		}).Warnf("achievements left locked: %s", err)
	case err != nil:
		return err
	}

	h.logger.WithFields(log.Fields{
		"user_id":        payload.UserID,
		"activity_date":  payload.ActivityDate,
		"outcome":        result.Streak.Outcome,
		"current_streak": result.Streak.Ledger.CurrentStreak,
		"newly_unlocked": result.Achievements.Count,
	}).Debug("activity applied")
	return nil
}

// UnlockNotifier logs achievement.unlocked events for the audit trail.
func UnlockNotifier(logger log.FieldLogger) Handler {
	return HandlerFunc(func(_ context.Context, msg Message) error {
		var payload events.AchievementUnlocked
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("%w: decode %s: %s", ErrPoisonMessage, msg.EventType, err)
		}
		logger.WithFields(log.Fields{
			"user_id":        payload.UserID,
			"achievement_id": payload.AchievementID,
			"name":           payload.Name,
			"points":         payload.Points,
		}).Info("achievement unlocked")
		return nil
	})
}
