package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"otp-service/internal/metrics"
	"otp-service/internal/model"
	"otp-service/internal/service"
	"otp-service/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 10

// OTPHandler handles HTTP requests for issuing and verifying codes
type OTPHandler struct {
	otpService  *service.OTPService
	rateLimiter *service.RateLimiter
	metrics     *metrics.Metrics
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewOTPHandler creates a new OTP handler
func NewOTPHandler(otpService *service.OTPService, rateLimiter *service.RateLimiter, m *metrics.Metrics, logger *zap.Logger) *OTPHandler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &OTPHandler{
		otpService:  otpService,
		rateLimiter: rateLimiter,
		metrics:     m,
		validate:    validate,
		logger:      logger,
	}
}

// Response represents a standard API error response
type Response struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Message string            `json:"message,omitempty"`
	Issues  map[string]string `json:"issues,omitempty"`
}

// RegisterRoutes registers the OTP routes
func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/request", h.RequestOTP)
		r.Post("/verify", h.VerifyOTP)
	})
}

// RequestOTP issues a code unless one is still live
// @Summary Request a one-time passcode
// @Tags otp
// @Accept json
// @Produce json
// @Param request body model.OTPRequest true "OTP request"
// @Success 200 {object} model.OTPRequestResponse
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /otp/request [post]
func (h *OTPHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req model.OTPRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Channel == "" {
		req.Channel = model.DefaultChannel
	}

	allowed, err := h.rateLimiter.Admit(ctx, req.Identifier+":"+clientIP(r))
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Internal error", "", err)
		return
	}
	if !allowed {
		h.metrics.IncRateLimitHit(ctx)
		h.respondWithError(w, http.StatusTooManyRequests, "too_many_requests", "Try again later", nil)
		return
	}

	result, err := h.otpService.Generate(ctx, req.Identifier, req.Channel)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Internal error", "", err)
		return
	}
	h.metrics.IncOTPRequest(ctx)

	resp := model.OTPRequestResponse{Message: "OTP sent", Issued: result.Issued}
	if !result.Issued {
		resp.Message = "OTP already issued (still valid)"
		resp.TTL = int64(result.TTL / time.Second)
	}

	h.respondWithJSON(w, http.StatusOK, resp)
	h.logger.Debug("OTP request handled",
		util.Bool("issued", result.Issued),
		util.Duration("duration", time.Since(startTime)),
	)
}

// VerifyOTP checks a submitted code
// @Summary Verify a one-time passcode
// @Tags otp
// @Accept json
// @Produce json
// @Param request body model.OTPVerifyRequest true "OTP verification"
// @Success 200 {object} model.OTPVerifyResponse
// @Failure 400 {object} Response
// @Failure 401 {object} model.OTPVerifyResponse
// @Failure 410 {object} model.OTPVerifyResponse
// @Failure 429 {object} model.OTPVerifyResponse
// @Failure 500 {object} Response
// @Router /otp/verify [post]
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.OTPVerifyRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	status, err := h.otpService.Verify(ctx, req.Identifier, req.Code)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Internal error", "", err)
		return
	}

	if status == service.VerifyOK {
		h.metrics.IncVerifyOK(ctx)
		h.respondWithJSON(w, http.StatusOK, model.OTPVerifyResponse{Success: true})
		return
	}

	h.metrics.IncVerifyFail(ctx, string(status))
	switch status {
	case service.VerifyExpired:
		h.respondWithJSON(w, http.StatusGone, model.OTPVerifyResponse{Error: "Code expired"})
	case service.VerifyBlocked:
		h.respondWithJSON(w, http.StatusTooManyRequests, model.OTPVerifyResponse{Error: "too_many_requests", Message: "Try again later"})
	default:
		h.respondWithJSON(w, http.StatusUnauthorized, model.OTPVerifyResponse{Error: "Invalid code"})
	}
}

// decodeAndValidate writes a 400 and returns false when the body is unusable
func (h *OTPHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid body", "Request body must be valid JSON", err)
		return false
	}

	normalizeRequest(dst)

	if err := h.validate.Struct(dst); err != nil {
		resp := Response{Error: "Invalid body", Issues: validationIssues(err)}
		h.logger.Debug("Request validation failed", util.ErrorField(err))
		h.respondWithJSON(w, http.StatusBadRequest, resp)
		return false
	}

	if id := identifierOf(dst); util.ContainsSuspicious(id) {
		h.respondWithJSON(w, http.StatusBadRequest, Response{
			Error:  "Invalid body",
			Issues: map[string]string{"identifier": "invalid characters"},
		})
		return false
	}
	return true
}

func normalizeRequest(dst interface{}) {
	switch req := dst.(type) {
	case *model.OTPRequest:
		req.Identifier = util.NormalizeIdentifier(req.Identifier)
		req.Channel = model.Channel(strings.ToLower(strings.TrimSpace(string(req.Channel))))
	case *model.OTPVerifyRequest:
		req.Identifier = util.NormalizeIdentifier(req.Identifier)
		req.Code = strings.TrimSpace(req.Code)
	}
}

func identifierOf(dst interface{}) string {
	switch req := dst.(type) {
	case *model.OTPRequest:
		return req.Identifier
	case *model.OTPVerifyRequest:
		return req.Identifier
	}
	return ""
}

func validationIssues(err error) map[string]string {
	issues := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		issues["body"] = "invalid"
		return issues
	}
	for _, fe := range verrs {
		issue := fe.Tag()
		if fe.Param() != "" {
			issue += "=" + fe.Param()
		}
		issues[fe.Field()] = issue
	}
	return issues
}

// clientIP returns the caller address after RealIP has run
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// respondWithJSON sends a JSON response
func (h *OTPHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response; cause is logged, never returned
func (h *OTPHandler) respondWithError(w http.ResponseWriter, statusCode int, errCode, message string, cause error) {
	fields := []zap.Field{
		util.Int("status_code", statusCode),
		util.String("error", errCode),
	}
	if cause != nil {
		fields = append(fields, util.ErrorField(cause))
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response", fields...)
	} else {
		h.logger.Warn("HTTP error response", fields...)
	}
	h.respondWithJSON(w, statusCode, Response{Error: errCode, Message: message})
}
