// File: internal/infra/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"license-activation-server/internal/domain"
	"license-activation-server/internal/domain/model"
	"license-activation-server/internal/domain/ports/repository"
	"license-activation-server/internal/infra/logging"
)

const maxBodyBytes = 1 << 20

// ---- payloads ----

type pairRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"device_id"`
}

type statusRequest struct {
	DeviceID string `json:"device_id"`
}

type loginRequest struct {
	Password string `json:"password"`
}

type generateRequest struct {
	Tier  string `json:"tier"`
	Count int    `json:"count"`
}

type revokeRequest struct {
	Code     string `json:"code,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

type grantResponse struct {
	Granted   bool       `json:"granted"`
	Reason    string     `json:"reason,omitempty"`
	Tier      string     `json:"tier,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type codeItem struct {
	Code        string     `json:"code"`
	Tier        string     `json:"tier"`
	Status      string     `json:"status"`
	BoundDevice *string    `json:"bound_device,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type deviceItem struct {
	DeviceID   string     `json:"device_id"`
	BoundCode  *string    `json:"bound_code,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type listResponse struct {
	Items    interface{} `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// ---- client command handlers ----

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !s.decode(w, r, &req) {
		return
	}
	grant, err := s.authz.Activate(r.Context(), req.Code, req.DeviceID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantResponse(grant))
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	grant, err := s.authz.CheckStatus(r.Context(), req.DeviceID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantResponse(grant))
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !s.decode(w, r, &req) {
		return
	}
	grant, err := s.authz.Renew(r.Context(), req.Code, req.DeviceID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantResponse(grant))
}

// ---- admin handlers ----

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.passwordHash == "" {
		s.log.Error().Msg("admin password hash is not configured")
		writeError(w, http.StatusForbidden, "admin API disabled")
		return
	}
	if !VerifyPassword(s.passwordHash, req.Password) {
		s.log.Warn().Msg("failed admin login attempt")
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	token, err := s.auth.Mint()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleGenerateCodes(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}
	codes, err := s.admin.GenerateCodes(r.Context(), model.Tier(req.Tier), req.Count)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"codes": codes})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !s.decode(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.DeviceID != "":
		err = s.admin.RevokeDevice(r.Context(), req.DeviceID)
	case req.Code != "":
		err = s.admin.RevokeCode(r.Context(), req.Code)
	default:
		writeError(w, http.StatusBadRequest, "code or device_id is required")
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "revoked"})
}

func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.CodeFilter{
		Status: model.CodeStatus(q.Get("status")),
		Tier:   model.Tier(q.Get("tier")),
		Search: q.Get("search"),
	}
	var ok bool
	if filter.CreatedFrom, ok = queryTime(w, q.Get("created_from")); !ok {
		return
	}
	if filter.CreatedTo, ok = queryTime(w, q.Get("created_to")); !ok {
		return
	}
	page, pageSize := queryPage(q.Get("page"), q.Get("page_size"))

	items, total, err := s.admin.ListCodes(r.Context(), filter, page, pageSize)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	out := make([]codeItem, 0, len(items))
	for _, c := range items {
		out = append(out, codeItem{
			Code:        c.Code,
			Tier:        string(c.Tier),
			Status:      string(c.Status),
			BoundDevice: c.BoundDevice,
			ActivatedAt: c.ActivatedAt,
			ExpiresAt:   c.ExpiresAt,
			CreatedAt:   c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listResponse{Items: out, Total: total, Page: page, PageSize: pageSize})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DeviceFilter{Search: q.Get("search")}
	var ok bool
	if filter.CreatedFrom, ok = queryTime(w, q.Get("created_from")); !ok {
		return
	}
	if filter.CreatedTo, ok = queryTime(w, q.Get("created_to")); !ok {
		return
	}
	page, pageSize := queryPage(q.Get("page"), q.Get("page_size"))

	items, total, err := s.admin.ListDevices(r.Context(), filter, page, pageSize)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	out := make([]deviceItem, 0, len(items))
	for _, d := range items {
		out = append(out, deviceItem{
			DeviceID:   d.DeviceID,
			BoundCode:  d.BoundCode,
			LastSeenAt: d.LastSeenAt,
			CreatedAt:  d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, listResponse{Items: out, Total: total, Page: page, PageSize: pageSize})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, devices, err := s.admin.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"codes_by_status": byStatus,
		"devices_total":   devices,
	})
}

// ---- helpers ----

func toGrantResponse(g *model.Grant) grantResponse {
	return grantResponse{
		Granted:   g.Granted,
		Reason:    string(g.Reason),
		Tier:      string(g.Tier),
		ExpiresAt: g.ExpiresAt,
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// writeFailure maps taxonomy errors to transport status codes. Decisions never
// arrive here; they travel as Grant values with status 200.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "busy, retry later")
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryPage(pageStr, sizeStr string) (int, int) {
	page, _ := strconv.Atoi(pageStr)
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(sizeStr)
	if size < 1 {
		size = 10
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

func queryTime(w http.ResponseWriter, raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad timestamp, want RFC3339")
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
