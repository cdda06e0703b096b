package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wisefido-bioauth/internal/enrollment"
	"wisefido-bioauth/internal/matcher"
	"wisefido-bioauth/internal/models"
)

// BioAuthService 处理器依赖的服务接口（由 service.AuthService 实现）
type BioAuthService interface {
	Enroll(ctx context.Context, req enrollment.Request) (*models.Profile, error)
	Authenticate(ctx context.Context, in matcher.Input) (*models.Decision, error)
	Profiles(ctx context.Context) ([]models.Profile, error)
	Reset(ctx context.Context) error
}

// BioAuthHandler 认证服务 HTTP 处理器
type BioAuthHandler struct {
	svc    BioAuthService
	logger *zap.Logger
}

// NewBioAuthHandler 创建处理器
func NewBioAuthHandler(svc BioAuthService, logger *zap.Logger) *BioAuthHandler {
	return &BioAuthHandler{
		svc:    svc,
		logger: logger,
	}
}

// enrollRequest 登记请求体
type enrollRequest struct {
	PersonID        string   `json:"person_id"`
	DisplayName     string   `json:"display_name"`
	SensorID        string   `json:"sensor_id"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	WearableReading *float64 `json:"wearable_reading,omitempty"`
}

// profileSummary 返回给调用方的档案摘要
type profileSummary struct {
	PersonID            string   `json:"person_id"`
	DisplayName         string   `json:"display_name"`
	HeartRateBaseline   float64  `json:"heart_rate_baseline"`
	HeartRateMin        float64  `json:"heart_rate_min"`
	HeartRateMax        float64  `json:"heart_rate_max"`
	HeartRateStdDev     float64  `json:"heart_rate_stddev"`
	BreathingBaseline   *float64 `json:"breathing_baseline,omitempty"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	HasSecondarySensor  bool     `json:"has_secondary_sensor"`
	CreatedAt           string   `json:"created_at"`
}

func toProfileSummary(p models.Profile) profileSummary {
	return profileSummary{
		PersonID:            p.PersonID,
		DisplayName:         p.DisplayName,
		HeartRateBaseline:   p.HeartRateBaseline,
		HeartRateMin:        p.HeartRateMin,
		HeartRateMax:        p.HeartRateMax,
		HeartRateStdDev:     p.HeartRateStdDev,
		BreathingBaseline:   p.BreathingBaseline,
		ConfidenceThreshold: p.ConfidenceThreshold,
		HasSecondarySensor:  p.HasSecondarySensor,
		CreatedAt:           p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Enroll POST /bioauth/api/v1/enroll
func (h *BioAuthHandler) Enroll(w http.ResponseWriter, req *http.Request) {
	var body enrollRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if body.PersonID == "" || body.SensorID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("person_id and sensor_id are required"))
		return
	}

	profile, err := h.svc.Enroll(req.Context(), enrollment.Request{
		PersonID:        body.PersonID,
		DisplayName:     body.DisplayName,
		SensorID:        body.SensorID,
		Duration:        time.Duration(body.DurationSeconds) * time.Second,
		WearableReading: body.WearableReading,
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientSamples) {
			writeJSON(w, http.StatusUnprocessableEntity, Fail("insufficient samples collected"))
			return
		}
		if errors.Is(err, context.Canceled) {
			writeJSON(w, http.StatusBadRequest, Fail("enrollment cancelled"))
			return
		}
		h.logger.Error("Enrollment failed",
			zap.String("person_id", body.PersonID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("enrollment failed"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(toProfileSummary(*profile)))
}

// authenticateRequest 认证请求体
type authenticateRequest struct {
	SensorID         string   `json:"sensor_id"`
	WearableReading  *float64 `json:"wearable_reading,omitempty"`
	PresenceDetected bool     `json:"presence_detected"`
}

// decisionResponse 认证响应体
type decisionResponse struct {
	SensorID            string   `json:"sensor_id"`
	MatchedPersonID     *string  `json:"matched_person_id"`
	Confidence          float64  `json:"confidence"`
	ContributingSignals []string `json:"contributing_signals"`
	Timestamp           string   `json:"timestamp"`
}

// Authenticate POST /bioauth/api/v1/authenticate
//
// "未识别"（matched_person_id 为 null）是成功响应；
// 只有传感器无数据等操作性失败才返回错误状态码。
func (h *BioAuthHandler) Authenticate(w http.ResponseWriter, req *http.Request) {
	var body authenticateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if body.SensorID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("sensor_id is required"))
		return
	}

	decision, err := h.svc.Authenticate(req.Context(), matcher.Input{
		SensorID:          body.SensorID,
		WearableHeartRate: body.WearableReading,
		PresenceDetected:  body.PresenceDetected,
	})
	if err != nil {
		if errors.Is(err, models.ErrNoData) {
			writeJSON(w, http.StatusNotFound, Fail("no sensor data available"))
			return
		}
		h.logger.Error("Authentication failed",
			zap.String("sensor_id", body.SensorID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("authentication failed"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(decisionResponse{
		SensorID:            decision.SensorID,
		MatchedPersonID:     decision.MatchedPersonID,
		Confidence:          decision.Confidence,
		ContributingSignals: decision.ContributingSignals,
		Timestamp:           decision.Timestamp.UTC().Format(time.RFC3339),
	}))
}

// ListProfiles GET /bioauth/api/v1/profiles
func (h *BioAuthHandler) ListProfiles(w http.ResponseWriter, req *http.Request) {
	profiles, err := h.svc.Profiles(req.Context())
	if err != nil {
		h.logger.Error("Failed to list profiles", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list profiles"))
		return
	}

	summaries := make([]profileSummary, 0, len(profiles))
	for _, p := range profiles {
		summaries = append(summaries, toProfileSummary(p))
	}
	writeJSON(w, http.StatusOK, Ok(summaries))
}

// Reset POST /bioauth/api/v1/profiles/reset
func (h *BioAuthHandler) Reset(w http.ResponseWriter, req *http.Request) {
	if err := h.svc.Reset(req.Context()); err != nil {
		h.logger.Error("Failed to reset profiles", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to reset profiles"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "reset"}))
}

// ExportProfiles GET /bioauth/api/v1/profiles/export
func (h *BioAuthHandler) ExportProfiles(w http.ResponseWriter, req *http.Request) {
	profiles, err := h.svc.Profiles(req.Context())
	if err != nil {
		h.logger.Error("Failed to load profiles for export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export profiles"))
		return
	}

	data, err := GenerateProfilesExport(profiles)
	if err != nil {
		h.logger.Error("Failed to generate profiles export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export profiles"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="bioauth_profiles.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
