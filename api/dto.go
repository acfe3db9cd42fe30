/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  the validator before touching domain logic. DTOs stay pure data carriers.

TIME FORMATS:
  Timestamps are RFC3339; calendar days are YYYY-MM-DD. Point values are
  serialized as decimal strings ("0.25"), never floats.

SEE ALSO:
  - handlers.go: Uses these types
  - attendance/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/engine"
)

// =============================================================================
// UPLOAD TYPES
// =============================================================================

// ScanDTO is one scan tuple inside an upload.
type ScanDTO struct {
	UserID    string `json:"user_id" validate:"required"`
	SiteID    string `json:"site_id" validate:"required"`
	ScannedAt string `json:"scanned_at" validate:"required"` // RFC3339
}

// UploadRequest carries one batch of scans from a collection site.
type UploadRequest struct {
	UploadID string    `json:"upload_id" validate:"required"`
	Scans    []ScanDTO `json:"scans" validate:"required,min=1,dive"`
}

// ScanErrorDTO describes one scan that could not be processed.
type ScanErrorDTO struct {
	UserID    string `json:"user_id"`
	ScannedAt string `json:"scanned_at"`
	Reason    string `json:"reason"`
}

// UploadResultDTO summarizes one processed upload.
type UploadResultDTO struct {
	UploadID      string         `json:"upload_id"`
	Received      int            `json:"received"`
	NewScans      int            `json:"new_scans"`
	Created       int            `json:"created"`
	Updated       int            `json:"updated"`
	Skipped       int            `json:"skipped"`
	FlaggedReview int            `json:"flagged_review"`
	Errors        []ScanErrorDTO `json:"errors,omitempty"`
}

// =============================================================================
// RECORD TYPES
// =============================================================================

// RecordDTO represents an attendance record in API responses.
type RecordDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ShiftDate string `json:"shift_date"`

	ScheduledIn  string `json:"scheduled_in"`
	ScheduledOut string `json:"scheduled_out"`
	GraceMinutes int    `json:"grace_minutes"`

	ActualIn  *string `json:"actual_in,omitempty"`
	ActualOut *string `json:"actual_out,omitempty"`
	SiteIn    string  `json:"site_in,omitempty"`
	SiteOut   string  `json:"site_out,omitempty"`

	Status           string `json:"status"`
	SecondaryStatus  string `json:"secondary_status,omitempty"`
	TardyMinutes     int    `json:"tardy_minutes,omitempty"`
	UndertimeMinutes int    `json:"undertime_minutes,omitempty"`

	AdminVerified     bool   `json:"admin_verified"`
	PartiallyVerified bool   `json:"partially_verified"`
	Advised           bool   `json:"advised"`
	Notes             string `json:"notes,omitempty"`

	Version   int    `json:"version"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// =============================================================================
// POINT TYPES
// =============================================================================

// PointDTO represents a disciplinary point entry.
type PointDTO struct {
	ID        string `json:"id"`
	RecordID  string `json:"record_id"`
	UserID    string `json:"user_id"`
	ShiftDate string `json:"shift_date"`

	Type  string `json:"type"`
	Value string `json:"value"` // decimal string, e.g. "0.25"

	ExpiresAt      string `json:"expires_at"`
	Expired        bool   `json:"expired"`
	ExpirationType string `json:"expiration_type,omitempty"`
	GBROBatchID    string `json:"gbro_batch_id,omitempty"`

	EligibleForGBRO bool   `json:"eligible_for_gbro"`
	Excused         bool   `json:"excused"`
	ExcusedBy       string `json:"excused_by,omitempty"`
	ExcuseReason    string `json:"excuse_reason,omitempty"`
}

// PointSummaryDTO is a user's active point total.
type PointSummaryDTO struct {
	UserID string `json:"user_id"`
	Total  string `json:"total"` // decimal string
	Count  int    `json:"count"`
	AsOf   string `json:"as_of"`
}

// =============================================================================
// VERIFICATION TYPES
// =============================================================================

// PartialApprovalRequest confirms an incomplete record as-is.
type PartialApprovalRequest struct {
	ActorID        string  `json:"actor_id" validate:"required"`
	OverrideStatus *string `json:"override_status,omitempty"`
	Advised        bool    `json:"advised"`
	Notes          string  `json:"notes"`
}

// BatchPartialApprovalRequest applies partial approval to many records.
type BatchPartialApprovalRequest struct {
	RecordIDs []string `json:"record_ids" validate:"required,min=1"`
	ActorID   string   `json:"actor_id" validate:"required"`
}

// VerifyRequest completes a record by supplying the missing counterpart.
type VerifyRequest struct {
	ActorID     string  `json:"actor_id" validate:"required"`
	Counterpart *string `json:"counterpart,omitempty"` // RFC3339; nil confirms as-is
	SiteID      string  `json:"site_id,omitempty"`
	Notes       string  `json:"notes"`
}

// BatchVerifyItem is one record inside a batch verification.
type BatchVerifyItem struct {
	RecordID    string  `json:"record_id" validate:"required"`
	Counterpart *string `json:"counterpart,omitempty"`
	SiteID      string  `json:"site_id,omitempty"`
	Notes       string  `json:"notes"`
}

// BatchVerifyRequest applies full verification to many records.
type BatchVerifyRequest struct {
	ActorID string            `json:"actor_id" validate:"required"`
	Items   []BatchVerifyItem `json:"items" validate:"required,min=1,dive"`
}

// BatchResultDTO summarizes a batch verification operation.
type BatchResultDTO struct {
	Processed int                 `json:"processed"`
	Skipped   int                 `json:"skipped"`
	Failed    int                 `json:"failed"`
	Errors    []BatchItemErrorDTO `json:"errors,omitempty"`
}

// BatchItemErrorDTO describes one record that failed inside a batch.
type BatchItemErrorDTO struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// ExcuseRequest excuses one point entry.
type ExcuseRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

// =============================================================================
// ADMIN TYPES
// =============================================================================

// AmnestyRequest triggers a good-behavior rollout for one user.
type AmnestyRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
}

// AmnestyResultDTO is the result of one amnesty batch.
type AmnestyResultDTO struct {
	BatchID string `json:"batch_id"`
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// SweepResultDTO is the result of one expiration sweep.
type SweepResultDTO struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// FinalizeRequest closes out one shift date (NCNS finalization).
type FinalizeRequest struct {
	Date string `json:"date" validate:"required"` // YYYY-MM-DD
}

// FinalizeResultDTO is the result of one finalization pass.
type FinalizeResultDTO struct {
	Checked   int            `json:"checked"`
	Finalized int            `json:"finalized"`
	Skipped   int            `json:"skipped"`
	Errors    []ScanErrorDTO `json:"errors,omitempty"`
}

// CreateScheduleRequest seeds one schedule version.
type CreateScheduleRequest struct {
	ID            string  `json:"id" validate:"required"`
	UserID        string  `json:"user_id" validate:"required"`
	ShiftType     string  `json:"shift_type" validate:"required"`
	TimeIn        string  `json:"time_in" validate:"required"`  // HH:MM
	TimeOut       string  `json:"time_out" validate:"required"` // HH:MM
	GraceMinutes  int     `json:"grace_minutes" validate:"gte=0"`
	WorkDays      []int   `json:"work_days" validate:"dive,gte=0,lte=6"`
	EffectiveFrom string  `json:"effective_from" validate:"required"` // YYYY-MM-DD
	EffectiveTo   *string `json:"effective_to,omitempty"`
}

// AuditEventDTO represents one audit log entry.
type AuditEventDTO struct {
	ID       string `json:"id"`
	At       string `json:"at"`
	ActorID  string `json:"actor_id"`
	Action   string `json:"action"`
	UserID   string `json:"user_id,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	PointID  string `json:"point_id,omitempty"`
	Before   string `json:"before,omitempty"`
	After    string `json:"after,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRecordDTO(rec attendance.AttendanceRecord) RecordDTO {
	return RecordDTO{
		ID:                string(rec.ID),
		UserID:            string(rec.UserID),
		ShiftDate:         rec.ShiftDate.Format("2006-01-02"),
		ScheduledIn:       rec.ScheduledIn.Format(time.RFC3339),
		ScheduledOut:      rec.ScheduledOut.Format(time.RFC3339),
		GraceMinutes:      rec.GraceMinutes,
		ActualIn:          timePtrString(rec.ActualIn),
		ActualOut:         timePtrString(rec.ActualOut),
		SiteIn:            string(rec.SiteIn),
		SiteOut:           string(rec.SiteOut),
		Status:            string(rec.Status),
		SecondaryStatus:   string(rec.SecondaryStatus),
		TardyMinutes:      rec.TardyMinutes,
		UndertimeMinutes:  rec.UndertimeMinutes,
		AdminVerified:     rec.AdminVerified,
		PartiallyVerified: rec.PartiallyVerified,
		Advised:           rec.Advised,
		Notes:             rec.Notes,
		Version:           rec.Version,
		UpdatedAt:         rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toRecordDTOs(recs []attendance.AttendanceRecord) []RecordDTO {
	dtos := make([]RecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toRecordDTO(rec)
	}
	return dtos
}

func toPointDTO(e attendance.PointEntry) PointDTO {
	return PointDTO{
		ID:              string(e.ID),
		RecordID:        string(e.RecordID),
		UserID:          string(e.UserID),
		ShiftDate:       e.ShiftDate.Format("2006-01-02"),
		Type:            string(e.Type),
		Value:           e.Value.String(),
		ExpiresAt:       e.ExpiresAt.Format(time.RFC3339),
		Expired:         e.Expired,
		ExpirationType:  string(e.ExpirationType),
		GBROBatchID:     e.GBROBatchID,
		EligibleForGBRO: e.EligibleForGBRO,
		Excused:         e.Excused,
		ExcusedBy:       e.ExcusedBy,
		ExcuseReason:    e.ExcuseReason,
	}
}

func toPointDTOs(entries []attendance.PointEntry) []PointDTO {
	dtos := make([]PointDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toPointDTO(e)
	}
	return dtos
}

func toUploadResultDTO(res engine.UploadResult) UploadResultDTO {
	return UploadResultDTO{
		UploadID:      string(res.UploadID),
		Received:      res.Received,
		NewScans:      res.NewScans,
		Created:       res.Created,
		Updated:       res.Updated,
		Skipped:       res.Skipped,
		FlaggedReview: res.FlaggedReview,
		Errors:        toScanErrorDTOs(res.Errors),
	}
}

func toScanErrorDTOs(errs []engine.ScanError) []ScanErrorDTO {
	if len(errs) == 0 {
		return nil
	}
	dtos := make([]ScanErrorDTO, len(errs))
	for i, e := range errs {
		dtos[i] = ScanErrorDTO{
			UserID:    string(e.UserID),
			ScannedAt: e.ScannedAt.Format(time.RFC3339),
			Reason:    e.Reason,
		}
	}
	return dtos
}

func toBatchResultDTO(res engine.BatchResult) BatchResultDTO {
	dto := BatchResultDTO{Processed: res.Processed, Skipped: res.Skipped, Failed: res.Failed}
	for _, e := range res.Errors {
		dto.Errors = append(dto.Errors, BatchItemErrorDTO{RecordID: string(e.RecordID), Reason: e.Reason})
	}
	return dto
}

func toAuditEventDTO(e attendance.AuditEvent) AuditEventDTO {
	return AuditEventDTO{
		ID:       e.ID,
		At:       e.At.Format(time.RFC3339),
		ActorID:  e.ActorID,
		Action:   string(e.Action),
		UserID:   string(e.UserID),
		RecordID: string(e.RecordID),
		PointID:  string(e.PointID),
		Before:   e.Before,
		After:    e.After,
		Reason:   e.Reason,
	}
}

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
