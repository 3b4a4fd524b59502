package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/avolkov/quantvault/internal/common"
	"github.com/avolkov/quantvault/internal/server/models"
	"github.com/avolkov/quantvault/internal/server/services"
	"github.com/go-chi/chi/v5"
)

// Byte-slice fields marshal as base64 strings, which is how all key blobs
// travel over this API.

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError translates service sentinels to HTTP status codes. Unknown
// errors are logged and reported with a generic body.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidKeyMaterial):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrInsufficientGuardians),
		errors.Is(err, common.ErrInvalidShares):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrorAlreadyExists),
		errors.Is(err, common.ErrLastDeviceProtected),
		errors.Is(err, common.ErrThresholdViolation),
		errors.Is(err, common.ErrRecoveryAlreadyPending),
		errors.Is(err, common.ErrCustodyPending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrRecoveryExpiredOrInvalid):
		writeError(w, http.StatusGone, err.Error())
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

type deviceResponse struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

func toDeviceResponse(d *models.Device) deviceResponse {
	resp := deviceResponse{
		ID:          d.ID,
		DisplayName: d.DisplayName,
		CreatedAt:   d.CreatedAt,
	}
	if d.LastUsedAt.Valid {
		t := d.LastUsedAt.Time
		resp.LastUsedAt = &t
	}
	return resp
}

type enrollRequest struct {
	Username string `json:"username"`
}

type enrollResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
}

func (s *HTTPServer) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}

	user, token, err := s.users.Enroll(r.Context(), req.Username)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollResponse{
		UserID:      user.ID,
		Username:    user.Username,
		AccessToken: token,
	})
}

type registerDeviceRequest struct {
	DisplayName string `json:"display_name"`
	PublicKey   []byte `json:"public_key"`
}

type transferResponse struct {
	ID             string    `json:"id"`
	TargetDeviceID string    `json:"target_device_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type registerDeviceResponse struct {
	Device           deviceResponse    `json:"device"`
	WrappedMasterKey []byte            `json:"wrapped_master_key,omitempty"`
	Transfer         *transferResponse `json:"transfer,omitempty"`
}

func (s *HTTPServer) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.custody.RegisterDevice(r.Context(), userIDFromContext(r.Context()), req.DisplayName, req.PublicKey)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := registerDeviceResponse{
		Device:           toDeviceResponse(result.Device),
		WrappedMasterKey: result.WrappedMasterKey,
	}
	if result.Transfer != nil {
		resp.Transfer = &transferResponse{
			ID:             result.Transfer.ID,
			TargetDeviceID: result.Transfer.TargetDeviceID,
			Status:         result.Transfer.Status,
			CreatedAt:      result.Transfer.CreatedAt,
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *HTTPServer) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.custody.ListDevices(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := struct {
		Devices []deviceResponse `json:"devices"`
	}{Devices: make([]deviceResponse, 0, len(devices))}
	for _, d := range devices {
		resp.Devices = append(resp.Devices, toDeviceResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleFetchWrappedKey(w http.ResponseWriter, r *http.Request) {
	wrapped, err := s.custody.FetchWrappedKey(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "deviceID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		WrappedMasterKey []byte `json:"wrapped_master_key"`
	}{WrappedMasterKey: wrapped})
}

func (s *HTTPServer) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	err := s.custody.RevokeDevice(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "deviceID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pendingTransferResponse struct {
	TransferID        string    `json:"transfer_id"`
	TargetDeviceID    string    `json:"target_device_id"`
	TargetDisplayName string    `json:"target_display_name"`
	TargetPublicKey   []byte    `json:"target_public_key"`
	CreatedAt         time.Time `json:"created_at"`
}

func (s *HTTPServer) handleListPendingTransfers(w http.ResponseWriter, r *http.Request) {
	pending, err := s.custody.ListPendingTransfers(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := struct {
		Transfers []pendingTransferResponse `json:"transfers"`
	}{Transfers: make([]pendingTransferResponse, 0, len(pending))}
	for _, p := range pending {
		resp.Transfers = append(resp.Transfers, pendingTransferResponse{
			TransferID:        p.Transfer.ID,
			TargetDeviceID:    p.Transfer.TargetDeviceID,
			TargetDisplayName: p.TargetDisplayName,
			TargetPublicKey:   p.TargetPublicKey,
			CreatedAt:         p.Transfer.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type completeTransferRequest struct {
	SourceDeviceID   string `json:"source_device_id"`
	WrappedMasterKey []byte `json:"wrapped_master_key"`
}

func (s *HTTPServer) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	var req completeTransferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.custody.CompleteTransfer(r.Context(), userIDFromContext(r.Context()),
		chi.URLParam(r, "transferID"), req.SourceDeviceID, req.WrappedMasterKey)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type guardianKeyRequest struct {
	GuardianID string `json:"guardian_id"`
	PublicKey  []byte `json:"public_key"`
}

type setupGuardiansRequest struct {
	MasterKey []byte               `json:"master_key"`
	Guardians []guardianKeyRequest `json:"guardians"`
}

type guardianShareResponse struct {
	GuardianID  string    `json:"guardian_id"`
	ShareIndex  int       `json:"share_index"`
	SealedShare []byte    `json:"sealed_share"`
	CreatedAt   time.Time `json:"created_at"`
}

func toGuardianShareResponses(rows []*models.GuardianShare) []guardianShareResponse {
	out := make([]guardianShareResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, guardianShareResponse{
			GuardianID:  row.GuardianID,
			ShareIndex:  row.ShareIndex,
			SealedShare: row.SealedShare,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out
}

func (s *HTTPServer) handleSetupGuardians(w http.ResponseWriter, r *http.Request) {
	var req setupGuardiansRequest
	if !decodeBody(w, r, &req) {
		return
	}

	guardians := make([]services.GuardianKey, 0, len(req.Guardians))
	for _, g := range req.Guardians {
		guardians = append(guardians, services.GuardianKey{GuardianID: g.GuardianID, PublicKey: g.PublicKey})
	}

	rows, err := s.recovery.SetupGuardians(r.Context(), userIDFromContext(r.Context()), guardians, req.MasterKey)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Shares []guardianShareResponse `json:"shares"`
	}{Shares: toGuardianShareResponses(rows)})
}

func (s *HTTPServer) handleListGuardianShares(w http.ResponseWriter, r *http.Request) {
	rows, err := s.recovery.ListGuardianShares(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Shares []guardianShareResponse `json:"shares"`
	}{Shares: toGuardianShareResponses(rows)})
}

func (s *HTTPServer) handleRevokeGuardian(w http.ResponseWriter, r *http.Request) {
	err := s.recovery.RevokeGuardian(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "guardianID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type initiateRecoveryRequest struct {
	Username    string   `json:"username"`
	GuardianIDs []string `json:"guardian_ids"`
}

type initiateRecoveryResponse struct {
	RequestID            string    `json:"request_id"`
	RequiredShareIndexes []int     `json:"required_share_indexes"`
	ExpiresAt            time.Time `json:"expires_at"`
}

func (s *HTTPServer) handleInitiateRecovery(w http.ResponseWriter, r *http.Request) {
	var req initiateRecoveryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}

	request, err := s.recovery.InitiateRecovery(r.Context(), req.Username, req.GuardianIDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, initiateRecoveryResponse{
		RequestID:            request.ID,
		RequiredShareIndexes: request.RequiredShareIndexes,
		ExpiresAt:            request.ExpiresAt,
	})
}

type completeRecoveryRequest struct {
	RequestID         string   `json:"request_id"`
	Shares            [][]byte `json:"shares"`
	DeviceDisplayName string   `json:"device_display_name"`
	PublicKey         []byte   `json:"public_key"`
}

type completeRecoveryResponse struct {
	Device           deviceResponse `json:"device"`
	WrappedMasterKey []byte         `json:"wrapped_master_key"`
}

func (s *HTTPServer) handleCompleteRecovery(w http.ResponseWriter, r *http.Request) {
	var req completeRecoveryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	recovered, err := s.recovery.CompleteRecovery(r.Context(), req.RequestID, req.Shares, req.DeviceDisplayName, req.PublicKey)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, completeRecoveryResponse{
		Device:           toDeviceResponse(recovered.Device),
		WrappedMasterKey: recovered.WrappedMasterKey,
	})
}
