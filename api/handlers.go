/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization and validation, and delegates to
  the engine services.

ENDPOINTS:
  Uploads:
    POST   /api/uploads                      Ingest one scan batch

  Users:
    GET    /api/users/{id}/attendance        Attendance records in a range
    GET    /api/users/{id}/points            All point entries
    GET    /api/users/{id}/points/summary    Active point total

  Records:
    GET    /api/records/{id}                 One attendance record
    POST   /api/records/{id}/partial-approval Confirm an incomplete record
    POST   /api/records/{id}/verification    Complete and verify a record

  Verification (batch):
    POST   /api/verification/partial-approvals
    POST   /api/verification/verifications

  Points:
    POST   /api/points/{id}/excuse           Excuse one entry

  Admin:
    POST   /api/admin/amnesty                Good-behavior rollout
    POST   /api/admin/sweep                  Manual expiration sweep
    POST   /api/admin/finalize               NCNS finalization for a date
    POST   /api/admin/purge-scans            Retention purge
    POST   /api/admin/schedules              Seed a schedule version
    GET    /api/audit                        Query the audit log

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (complete record, settled point, lost race)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. The actor_id fields are
  caller-supplied and trusted; put this behind a gateway in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine: The services these handlers delegate to
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/engine"
	"github.com/warp/attendance-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Config       attendance.Config
	Reconciler   *engine.Reconciler
	Points       *engine.PointEngine
	Expiration   *engine.ExpirationProcessor
	Verification *engine.VerificationWorkflow

	validate *validator.Validate
}

// NewHandler creates a handler with the full engine wired onto one store.
func NewHandler(store *sqlite.Store, cfg attendance.Config) *Handler {
	points := engine.NewPointEngine(cfg, store, store)
	return &Handler{
		Store:        store,
		Config:       cfg,
		Reconciler:   engine.NewReconciler(cfg, store, store, store, points, store),
		Points:       points,
		Expiration:   engine.NewExpirationProcessor(cfg, store, store, store),
		Verification: engine.NewVerificationWorkflow(cfg, store, points, store, store),
		validate:     validator.New(),
	}
}

// =============================================================================
// UPLOAD HANDLERS
// =============================================================================

// ProcessUpload ingests one scan batch.
// POST /api/uploads
func (h *Handler) ProcessUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	scans := make([]engine.ScanInput, 0, len(req.Scans))
	for i, s := range req.Scans {
		at, err := time.Parse(time.RFC3339, s.ScannedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid scanned_at at index %d (use RFC3339)", i), err)
			return
		}
		scans = append(scans, engine.ScanInput{
			UserID:    attendance.UserID(s.UserID),
			SiteID:    attendance.SiteID(s.SiteID),
			ScannedAt: at,
		})
	}

	result, err := h.Reconciler.ProcessUpload(r.Context(), attendance.UploadID(req.UploadID), scans)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process upload", err)
		return
	}

	writeJSON(w, http.StatusOK, toUploadResultDTO(result))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListAttendance returns a user's records in a date range.
// GET /api/users/{id}/attendance?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	userID := attendance.UserID(chi.URLParam(r, "id"))

	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	records, err := h.Store.ListRange(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// ListPoints returns all of a user's point entries, active or not.
// GET /api/users/{id}/points
func (h *Handler) ListPoints(w http.ResponseWriter, r *http.Request) {
	userID := attendance.UserID(chi.URLParam(r, "id"))

	entries, err := h.Store.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list points", err)
		return
	}

	writeJSON(w, http.StatusOK, toPointDTOs(entries))
}

// PointSummary returns a user's active point total.
// GET /api/users/{id}/points/summary
func (h *Handler) PointSummary(w http.ResponseWriter, r *http.Request) {
	userID := attendance.UserID(chi.URLParam(r, "id"))

	sum, err := h.Points.ActiveTotal(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute total", err)
		return
	}

	writeJSON(w, http.StatusOK, PointSummaryDTO{
		UserID: string(userID),
		Total:  sum.Total.String(),
		Count:  sum.Count,
		AsOf:   sum.AsOf.Format(time.RFC3339),
	})
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// GetRecord returns one attendance record.
// GET /api/records/{id}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := attendance.RecordID(chi.URLParam(r, "id"))

	rec, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get record", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// PartialApprove confirms an incomplete record as-is.
// POST /api/records/{id}/partial-approval
func (h *Handler) PartialApprove(w http.ResponseWriter, r *http.Request) {
	id := attendance.RecordID(chi.URLParam(r, "id"))

	var req PartialApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	input := engine.PartialApprovalInput{
		RecordID: id,
		ActorID:  req.ActorID,
		Advised:  req.Advised,
		Notes:    req.Notes,
	}
	if req.OverrideStatus != nil {
		st := attendance.Status(*req.OverrideStatus)
		input.OverrideStatus = &st
	}

	rec, err := h.Verification.PartialApprove(r.Context(), input)
	if err != nil {
		writeDomainError(w, "Failed to partially approve record", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// Verify completes a record by supplying the missing counterpart.
// POST /api/records/{id}/verification
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	id := attendance.RecordID(chi.URLParam(r, "id"))

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	input := engine.VerifyInput{
		RecordID: id,
		ActorID:  req.ActorID,
		Site:     attendance.SiteID(req.SiteID),
		Notes:    req.Notes,
	}
	if req.Counterpart != nil {
		t, err := time.Parse(time.RFC3339, *req.Counterpart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid counterpart timestamp (use RFC3339)", err)
			return
		}
		input.Counterpart = &t
	}

	rec, err := h.Verification.Verify(r.Context(), input)
	if err != nil {
		writeDomainError(w, "Failed to verify record", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// =============================================================================
// BATCH VERIFICATION HANDLERS
// =============================================================================

// BatchPartialApprove partially approves many records; already-complete
// records are skipped, not fatal to the batch.
// POST /api/verification/partial-approvals
func (h *Handler) BatchPartialApprove(w http.ResponseWriter, r *http.Request) {
	var req BatchPartialApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	ids := make([]attendance.RecordID, len(req.RecordIDs))
	for i, id := range req.RecordIDs {
		ids[i] = attendance.RecordID(id)
	}

	result := h.Verification.BatchPartialApprove(r.Context(), ids, req.ActorID)
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// BatchVerify fully verifies many records.
// POST /api/verification/verifications
func (h *Handler) BatchVerify(w http.ResponseWriter, r *http.Request) {
	var req BatchVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	items := make([]engine.VerifyInput, 0, len(req.Items))
	for i, item := range req.Items {
		input := engine.VerifyInput{
			RecordID: attendance.RecordID(item.RecordID),
			ActorID:  req.ActorID,
			Site:     attendance.SiteID(item.SiteID),
			Notes:    item.Notes,
		}
		if item.Counterpart != nil {
			t, err := time.Parse(time.RFC3339, *item.Counterpart)
			if err != nil {
				writeError(w, http.StatusBadRequest,
					fmt.Sprintf("Invalid counterpart at index %d (use RFC3339)", i), err)
				return
			}
			input.Counterpart = &t
		}
		items = append(items, input)
	}

	result := h.Verification.BatchVerify(r.Context(), items)
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// =============================================================================
// POINT HANDLERS
// =============================================================================

// ExcusePoint permanently excuses one entry.
// POST /api/points/{id}/excuse
func (h *Handler) ExcusePoint(w http.ResponseWriter, r *http.Request) {
	id := attendance.PointID(chi.URLParam(r, "id"))

	var req ExcuseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	if err := h.Verification.Excuse(r.Context(), id, req.ActorID, req.Reason); err != nil {
		writeDomainError(w, "Failed to excuse point", err)
		return
	}

	entry, err := h.Store.GetPoint(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to reload point", err)
		return
	}
	writeJSON(w, http.StatusOK, toPointDTO(entry))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAmnesty triggers a good-behavior rollout for one user.
// POST /api/admin/amnesty
func (h *Handler) RunAmnesty(w http.ResponseWriter, r *http.Request) {
	var req AmnestyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	result, err := h.Expiration.RunAmnesty(r.Context(), attendance.UserID(req.UserID), req.ActorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run amnesty", err)
		return
	}

	writeJSON(w, http.StatusOK, AmnestyResultDTO{
		BatchID: result.BatchID,
		Applied: result.Applied,
		Skipped: result.Skipped,
		Failed:  result.Failed,
	})
}

// TriggerSweep runs the expiration sweep immediately.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Expiration.SweepSRO(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run sweep", err)
		return
	}

	writeJSON(w, http.StatusOK, SweepResultDTO{
		Scanned: result.Scanned,
		Expired: result.Expired,
		Skipped: result.Skipped,
		Failed:  result.Failed,
	})
}

// FinalizeDate closes out a shift date (NCNS finalization).
// POST /api/admin/finalize
func (h *Handler) FinalizeDate(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Reconciler.FinalizeDate(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to finalize date", err)
		return
	}

	writeJSON(w, http.StatusOK, FinalizeResultDTO{
		Checked:   result.Checked,
		Finalized: result.Finalized,
		Skipped:   result.Skipped,
		Errors:    toScanErrorDTOs(result.Errors),
	})
}

// PurgeScans deletes raw scans past the retention window.
// POST /api/admin/purge-scans
func (h *Handler) PurgeScans(w http.ResponseWriter, r *http.Request) {
	purged, err := h.Expiration.PurgeScans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge scans", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

// CreateSchedule seeds one schedule version.
// POST /api/admin/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	timeIn, err := parseClockString(req.TimeIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time_in (use HH:MM)", err)
		return
	}
	timeOut, err := parseClockString(req.TimeOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time_out (use HH:MM)", err)
		return
	}
	effectiveFrom, err := time.Parse("2006-01-02", req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from (use YYYY-MM-DD)", err)
		return
	}

	sched := attendance.Schedule{
		ID:            req.ID,
		UserID:        attendance.UserID(req.UserID),
		ShiftType:     attendance.ShiftType(req.ShiftType),
		TimeIn:        timeIn,
		TimeOut:       timeOut,
		GraceMinutes:  req.GraceMinutes,
		EffectiveFrom: effectiveFrom,
	}
	for _, d := range req.WorkDays {
		sched.WorkDays = append(sched.WorkDays, time.Weekday(d))
	}
	if req.EffectiveTo != nil {
		t, err := time.Parse("2006-01-02", *req.EffectiveTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_to (use YYYY-MM-DD)", err)
			return
		}
		sched.EffectiveTo = &t
	}

	if err := h.Store.SaveSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save schedule", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": sched.ID})
}

// QueryAudit returns audit events matching the query parameters.
// GET /api/audit?user_id=&record_id=&from=&to=
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	var filter attendance.AuditFilter

	if v := r.URL.Query().Get("user_id"); v != "" {
		id := attendance.UserID(v)
		filter.UserID = &id
	}
	if v := r.URL.Query().Get("record_id"); v != "" {
		id := attendance.RecordID(v)
		filter.RecordID = &id
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from timestamp (use RFC3339)", err)
			return
		}
		filter.From = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to timestamp (use RFC3339)", err)
			return
		}
		filter.To = &t
	}

	events, err := h.Store.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEventDTO, len(events))
	for i, e := range events {
		dtos[i] = toAuditEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResetDatabase clears all data (dev only).
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, errors.New("from and to query parameters are required (YYYY-MM-DD)")
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to must not precede from")
	}
	return from, to, nil
}

func parseClockString(s string) (attendance.ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return attendance.ClockTime{}, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return attendance.ClockTime{}, fmt.Errorf("clock time out of range: %s", s)
	}
	return attendance.NewClockTime(h, m), nil
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case attendance.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case attendance.IsClientError(err), errors.Is(err, attendance.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
