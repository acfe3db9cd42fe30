/*
points.go - Point engine service

PURPOSE:
  Keeps the stored point entry set for each attendance record matching the
  record's current outcome. Entries are replaced as a set, never
  accumulated: re-verifying a record with a different status swaps its
  points rather than stacking new ones on top.

SOFT STATE CARRY-OVER:
  Excusal is permanent and expiration is sticky. When a record's point set
  is replaced, any new entry whose type matches an existing entry inherits
  that entry's excusal and expiration state, so re-reconciling a record
  cannot resurrect an excused point.

SEE ALSO:
  - attendance/points.go: The pure derivation
  - expiration.go: Soft expiry of stored entries
*/
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/attendance-engine/attendance"
)

type PointEngine struct {
	Config attendance.Config
	Store  attendance.PointStore
	Audit  attendance.AuditLog

	Now func() time.Time
}

func NewPointEngine(cfg attendance.Config, store attendance.PointStore, audit attendance.AuditLog) *PointEngine {
	return &PointEngine{
		Config: cfg,
		Store:  store,
		Audit:  audit,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileRecord makes the stored entry set for the record match what its
// current statuses imply. A record whose derived set is unchanged is left
// byte-for-byte alone, which keeps duplicate uploads silent.
func (pe *PointEngine) ReconcileRecord(ctx context.Context, rec attendance.AttendanceRecord) error {
	desired := attendance.DerivePoints(rec, pe.Config)

	existing, err := pe.Store.ListByRecord(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load points for record %s: %w", rec.ID, err)
	}
	if attendance.SamePointSet(existing, desired) {
		return nil
	}

	// Carry soft state across the replacement.
	byType := make(map[attendance.PointType]attendance.PointEntry, len(existing))
	for _, e := range existing {
		byType[e.Type] = e
	}
	now := pe.Now()
	for i := range desired {
		desired[i].ID = attendance.PointID(uuid.NewString())
		desired[i].CreatedAt = now
		if prev, ok := byType[desired[i].Type]; ok {
			desired[i].Excused = prev.Excused
			desired[i].ExcusedBy = prev.ExcusedBy
			desired[i].ExcuseReason = prev.ExcuseReason
			desired[i].Expired = prev.Expired
			desired[i].ExpirationType = prev.ExpirationType
			desired[i].GBROBatchID = prev.GBROBatchID
		}
	}

	if err := pe.Store.ReplaceForRecord(ctx, rec.ID, desired); err != nil {
		return fmt.Errorf("failed to replace points for record %s: %w", rec.ID, err)
	}

	pe.audit(ctx, attendance.AuditEvent{
		ActorID:  "system",
		Action:   attendance.AuditPointsReconciled,
		UserID:   rec.UserID,
		RecordID: rec.ID,
		Before:   pointSummary(existing),
		After:    pointSummary(desired),
	})
	return nil
}

// ActiveTotal returns the user's active point total - the figure the
// leave-eligibility subsystem gates vacation requests on.
func (pe *PointEngine) ActiveTotal(ctx context.Context, userID attendance.UserID) (attendance.Sum, error) {
	entries, err := pe.Store.ListActive(ctx, userID)
	if err != nil {
		return attendance.Sum{}, fmt.Errorf("failed to load active points: %w", err)
	}
	return attendance.ActiveSum(entries, pe.Now()), nil
}

func (pe *PointEngine) audit(ctx context.Context, event attendance.AuditEvent) {
	if pe.Audit == nil {
		return
	}
	event.ID = uuid.NewString()
	event.At = pe.Now()
	if err := pe.Audit.Append(ctx, event); err != nil {
		log.Printf("[PointEngine] audit append failed: %v", err)
	}
}

func pointSummary(entries []attendance.PointEntry) string {
	if len(entries) == 0 {
		return "none"
	}
	s := ""
	for i, e := range entries {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%s", e.Type, e.Value.String())
	}
	return s
}
