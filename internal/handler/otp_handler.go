package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"otp-service/internal/model"
	"otp-service/internal/service"
	"otp-service/internal/util"
)

// OtpHandler handles HTTP requests for OTP operations.
type OtpHandler struct {
	otpService  *service.OtpService
	cronService *service.CronService
	logger      *zap.Logger
}

func NewOtpHandler(otpService *service.OtpService, cronService *service.CronService, logger *zap.Logger) *OtpHandler {
	return &OtpHandler{
		otpService:  otpService,
		cronService: cronService,
		logger:      logger,
	}
}

type generateRequest struct {
	Identifier      string `json:"identifier"`
	Channel         string `json:"channel"`
	ApplicationID   string `json:"applicationId"`
	ApplicationName string `json:"applicationName,omitempty"`
}

type verifyRequest struct {
	Identifier    string `json:"identifier"`
	Code          string `json:"otp"`
	ApplicationID string `json:"applicationId"`
}

// errorResponse is the wire shape for policy rejections and failures.
type errorResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	StatusCode   int    `json:"statusCode"`
	ErrorCode    string `json:"errorCode"`
	Timestamp    string `json:"timestamp"`
	BlockedUntil string `json:"blockedUntil,omitempty"`
	RetryAfter   int    `json:"retryAfter,omitempty"`
}

// RegisterRoutes mounts the public OTP routes.
func (h *OtpHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/generate", h.Generate)
		r.Post("/verify", h.Verify)
		r.Post("/resend", h.Resend)
		r.Delete("/cleanup", h.Cleanup)
		r.Get("/statistics", h.Statistics)
	})
}

// RegisterAdminRoutes mounts the cache maintenance routes.
func (h *OtpHandler) RegisterAdminRoutes(router chi.Router) {
	router.Route("/admin/otp", func(r chi.Router) {
		r.Post("/sync-redis", h.SyncRedis)
		r.Post("/cleanup-redis", h.CleanupRedis)
		r.Get("/cron-status", h.CronStatus)
	})
}

func (h *OtpHandler) Generate(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, "Generate")
}

func (h *OtpHandler) Resend(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, "Resend")
}

func (h *OtpHandler) generate(w http.ResponseWriter, r *http.Request, method string) {
	ctx := r.Context()
	startTime := time.Now()

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	serviceReq := service.GenerateRequest{
		Identifier:      util.NormalizeIdentifier(req.Identifier),
		ApplicationID:   util.NormalizeApplicationID(req.ApplicationID),
		ApplicationName: req.ApplicationName,
		Channel:         model.Channel(req.Channel),
		RequestIP:       clientIP(r),
	}
	if serviceReq.Identifier == "" || serviceReq.ApplicationID == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "identifier and applicationId are required")
		return
	}

	var (
		result *service.GenerateResult
		err    error
	)
	if method == "Resend" {
		result, err = h.otpService.Resend(ctx, serviceReq)
	} else {
		result, err = h.otpService.Generate(ctx, serviceReq)
	}
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, result)
	h.logger.Debug("generation handled",
		util.String("method", method),
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)))
}

func (h *OtpHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	serviceReq := service.VerifyRequest{
		Identifier:    util.NormalizeIdentifier(req.Identifier),
		ApplicationID: util.NormalizeApplicationID(req.ApplicationID),
		Code:          req.Code,
		RequestIP:     clientIP(r),
	}
	if serviceReq.Identifier == "" || serviceReq.ApplicationID == "" || serviceReq.Code == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "identifier, applicationId and otp are required")
		return
	}

	result, err := h.otpService.Verify(ctx, serviceReq)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, result)
	h.logger.Debug("verification handled",
		util.Bool("success", result.Success),
		util.Duration("duration", time.Since(startTime)))
}

func (h *OtpHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.otpService.CleanupExpired(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "CLEANUP_FAILED", "Failed to cleanup expired OTPs")
		return
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

func (h *OtpHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	applicationID := util.NormalizeApplicationID(r.URL.Query().Get("applicationId"))

	stats, err := h.otpService.GetStatistics(r.Context(), applicationID)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "STATS_FAILED", "Failed to retrieve statistics")
		return
	}
	h.respondWithJSON(w, http.StatusOK, stats)
}

func (h *OtpHandler) SyncRedis(w http.ResponseWriter, r *http.Request) {
	synced, err := h.cronService.SyncFromDatabase(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "SYNC_FAILED", "Failed to sync cache from database")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"syncedCount": synced,
	})
}

func (h *OtpHandler) CleanupRedis(w http.ResponseWriter, r *http.Request) {
	result, err := h.cronService.ManualCleanup(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "CLEANUP_FAILED", "Failed to flush cache")
		return
	}
	h.respondWithJSON(w, http.StatusOK, result)
}

func (h *OtpHandler) CronStatus(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.cronService.Status())
}

// handleServiceError maps policy errors onto their status codes and wire
// shapes.
func (h *OtpHandler) handleServiceError(w http.ResponseWriter, err error) {
	var rateErr *service.RateLimitError
	var blockedErr *service.OtpBlockedError
	var resendErr *service.MaxResendError

	switch {
	case errors.As(err, &rateErr):
		retryAfter := int(rateErr.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.respondWithJSON(w, http.StatusTooManyRequests, errorResponse{
			Success:    false,
			Message:    fmt.Sprintf("Rate limit exceeded. Please try again in %d seconds.", retryAfter),
			StatusCode: http.StatusTooManyRequests,
			ErrorCode:  "RATE_LIMIT_EXCEEDED",
			Timestamp:  time.Now().Format(time.RFC3339),
			RetryAfter: retryAfter,
		})
	case errors.As(err, &blockedErr):
		h.respondWithJSON(w, http.StatusTooManyRequests, errorResponse{
			Success:      false,
			Message:      fmt.Sprintf("Account temporarily blocked until %s", blockedErr.BlockedUntil.Format(time.RFC3339)),
			StatusCode:   http.StatusTooManyRequests,
			ErrorCode:    "OTP_BLOCKED",
			Timestamp:    time.Now().Format(time.RFC3339),
			BlockedUntil: blockedErr.BlockedUntil.Format(time.RFC3339),
		})
	case errors.As(err, &resendErr):
		h.respondWithJSON(w, http.StatusTooManyRequests, errorResponse{
			Success:      false,
			Message:      "Maximum resend attempts exceeded. Account temporarily blocked.",
			StatusCode:   http.StatusTooManyRequests,
			ErrorCode:    "MAX_RESEND_EXCEEDED",
			Timestamp:    time.Now().Format(time.RFC3339),
			BlockedUntil: resendErr.BlockedUntil.Format(time.RFC3339),
		})
	case errors.Is(err, service.ErrInvalidApplication):
		h.respondWithError(w, http.StatusBadRequest, "INVALID_APPLICATION", "Invalid application identifier")
	default:
		h.logger.Error("request failed", util.ErrorField(err))
		h.respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func (h *OtpHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *OtpHandler) respondWithError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.logger.Warn("HTTP error response",
		util.Int("status_code", statusCode),
		util.String("error_code", errorCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse{
		Success:    false,
		Message:    message,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

// clientIP prefers the RealIP middleware result over the socket address.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
