// Package api exposes HTTP handlers for the gamification service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"example.com/gamification/internal/auth"
	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/persistence"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// codes reported when request struct validation rejects a field.
var fieldCodes = map[string]string{
	"userId":       domain.CodeMissingUserID,
	"activityDate": domain.CodeInvalidDateFormat,
	"activityType": domain.CodeInvalidActivityType,
}

// Option configures a Handler.
type Option func(*Handler)

// WithInlineProgress advances the streak and evaluates achievements inside POST /v1/activities.
func WithInlineProgress(inline bool) Option {
	return func(h *Handler) {
		h.inlineProgress = inline
	}
}

// WithWriteMiddleware wraps every mutating route, after the scope check.
func WithWriteMiddleware(mw ...mux.MiddlewareFunc) Option {
	return func(h *Handler) {
		h.writeMiddleware = append(h.writeMiddleware, mw...)
	}
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service         *domain.Service
	inlineProgress  bool
	writeMiddleware []mux.MiddlewareFunc
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	writes := r.NewRoute().Subrouter()
	writes.Use(auth.RequireScope(auth.ScopeStreaksWrite))
	writes.Use(h.writeMiddleware...)
	writes.HandleFunc("/v1/activities", h.logActivity).Methods(http.MethodPost)
	writes.HandleFunc("/v1/streaks/check", h.checkStreak).Methods(http.MethodPost)
	writes.HandleFunc("/v1/achievements/check", h.checkAchievements).Methods(http.MethodPost)

	reads := r.NewRoute().Subrouter()
	reads.Use(auth.RequireScope(auth.ScopeStreaksRead, auth.ScopeStreaksWrite))
	reads.HandleFunc("/v1/activities/{userID}", h.listActivities).Methods(http.MethodGet)
	reads.HandleFunc("/v1/streaks/{userID}", h.getStreak).Methods(http.MethodGet)
	reads.HandleFunc("/v1/achievements", h.listAchievements).Methods(http.MethodGet)
	reads.HandleFunc("/v1/achievements/users/{userID}", h.listUnlocked).Methods(http.MethodGet)
	reads.HandleFunc("/v1/achievements/users/{userID}/summary", h.achievementSummary).Methods(http.MethodGet)
	reads.HandleFunc("/v1/leaderboard", h.leaderboard).Methods(http.MethodGet)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) logActivity(w http.ResponseWriter, r *http.Request) {
	var req LogActivityRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	event, err := h.service.LogActivity(r.Context(), domain.LogActivityInput{
		UserID:       req.UserID,
		ActivityType: req.ActivityType,
		ActivityDate: req.ActivityDate,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := LogActivityResponse{Activity: toActivityView(event)}
	if h.inlineProgress {
		// The activity is already stored; a progress failure must not invite a duplicate retry.
		progress, err := h.service.ProcessActivity(r.Context(), event.UserID, event.ActivityDate.String())
		switch {
		case err != nil && !tolerated(err):
			log.WithFields(log.Fields{
				"user_id":     event.UserID,
				"activity_id": event.ID,
			}).WithError(err).Warn("inline progress failed; activity stored")
		default:
			streak := toStreakView(progress.Streak.Ledger)
			resp.Streak = &streak
			resp.UnlockedAchievements = toAchievementViews(progress.Achievements.NewlyUnlocked)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) checkStreak(w http.ResponseWriter, r *http.Request) {
	var req CheckStreakRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	update, err := h.service.RecordActivity(r.Context(), req.UserID, req.ActivityDate)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if update.Outcome == domain.StreakCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, CheckStreakResponse{
		Streak:  toStreakView(update.Ledger),
		Outcome: string(update.Outcome),
	})
}

func (h *Handler) getStreak(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.service.GetStreak(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStreakView(ledger))
}

func (h *Handler) checkAchievements(w http.ResponseWriter, r *http.Request) {
	var req CheckAchievementsRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.service.EvaluateAchievements(r.Context(), req.UserID)
	if err != nil && !tolerated(err) {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{
		UnlockedAchievements: toAchievementViews(result.NewlyUnlocked),
		TotalUnlocked:        result.Count,
	})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := domain.ParseLimit(query.Get("limit"), domain.DefaultActivityLimit, domain.MaxActivityLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, problem{
			Type:   "validation_failed",
			Detail: "invalid cursor",
			Field:  "cursor",
			Code:   domain.CodeInvalidCursor,
		})
		return
	}

	events, next, err := h.service.ListActivities(r.Context(), mux.Vars(r)["userID"], cursor, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(events))
	for _, event := range events {
		items = append(items, toActivityView(event))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) listAchievements(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListAchievements(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAchievementViews(entries))
}

func (h *Handler) listUnlocked(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListUnlockedAchievements(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]UnlockView, 0, len(records))
	for _, rec := range records {
		views = append(views, toUnlockView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) achievementSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.AchievementSummary(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryView{
		UserID:            summary.UserID,
		TotalPoints:       summary.TotalPoints,
		UnlockedCount:     summary.UnlockedCount,
		TotalCount:        summary.TotalCount,
		CompletionPercent: summary.CompletionPercent,
		ByCategory:        summary.ByCategory,
	})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	metric, err := domain.ParseLeaderboardMetric(query.Get("type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	limit, err := domain.ParseLimit(query.Get("limit"), domain.DefaultLeaderboardLimit, domain.MaxLeaderboardLimit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	ledgers, err := h.service.ListLeaderboard(r.Context(), string(metric), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := LeaderboardResponse{Type: string(metric), Entries: make([]LeaderboardEntry, 0, len(ledgers))}
	for i, ledger := range ledgers {
		resp.Entries = append(resp.Entries, LeaderboardEntry{
			Rank:            i + 1,
			UserID:          ledger.UserID,
			CurrentStreak:   ledger.CurrentStreak,
			LongestStreak:   ledger.LongestStreak,
			TotalActivities: ledger.TotalActivities,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeRequest parses and validates the JSON body, writing a 400 on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			writeJSON(w, http.StatusBadRequest, problem{
				Type:   "validation_failed",
				Detail: fieldMessage(fe),
				Field:  fe.Field(),
				Code:   fieldCodes[fe.Field()],
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "datetime":
		return fe.Field() + " must be a YYYY-MM-DD date"
	default:
		return fe.Field() + " is invalid"
	}
}

// tolerated reports errors that still carry a usable result.
func tolerated(err error) bool {
	var partial *domain.PartialUnlockError
	if errors.As(err, &partial) {
		log.WithFields(log.Fields{
			"user_id":         partial.UserID,
			"achievement_ids": partial.AchievementIDs,
		}).WithError(partial.Err).Warn("some achievement unlocks failed")
		return true
	}
	return false
}

func writeServiceError(w http.ResponseWriter, err error) {
	if ve, ok := domain.IsValidation(err); ok {
		writeJSON(w, http.StatusBadRequest, problem{
			Type:   "validation_failed",
			Detail: ve.Message,
			Field:  ve.Field,
			Code:   ve.Code,
		})
		return
	}
	if errors.Is(err, domain.ErrLockUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "user is busy, retry later")
		return
	}
	log.WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
}

type problem struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Field  string `json:"field,omitempty"`
	Code   string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, problem{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Warn("encode response")
	}
}
