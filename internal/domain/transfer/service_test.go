package transfer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mamacare/mamacare/internal/platform/auth"
	"github.com/mamacare/mamacare/internal/platform/clock"
	"github.com/mamacare/mamacare/internal/platform/events"
)

var testNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *memStore
	tx    *memTransactor
	rec   *events.Recorder
	clk   *clock.ManagedClock
	svc   *Service
}

func newFixture() *fixture {
	store := newMemStore()
	tx := &memTransactor{store: store}
	rec := &events.Recorder{}
	clk := clock.NewManaged(testNow)
	return &fixture{
		store: store,
		tx:    tx,
		rec:   rec,
		clk:   clk,
		svc:   NewService(store, store, tx, clk, rec, zerolog.Nop()),
	}
}

func clinic(facility string) auth.Principal {
	return auth.Principal{UserID: "nurse-" + facility, FacilityID: facility, Roles: []string{auth.RoleClinic}}
}

func (f *fixture) pending(t *testing.T) (*Transfer, uuid.UUID) {
	t.Helper()
	pid := f.store.bind("Amina Otieno", "+254712345678", "fac-a")
	tr, err := f.svc.RequestTransfer(context.Background(), Request{
		PatientID:      pid,
		ToFacilityID:   "fac-b",
		ToFacilityName: "fac-b clinic",
		Reason:         "Patient relocated to Nakuru",
		RequestedBy:    "nurse-fac-b",
	})
	if err != nil {
		t.Fatalf("request transfer: %v", err)
	}
	return tr, pid
}

func TestRequestTransfer_FillsFromRegistry(t *testing.T) {
	f := newFixture()
	tr, _ := f.pending(t)

	if tr.Status != StatusPending {
		t.Errorf("expected pending, got %s", tr.Status)
	}
	if tr.FromFacilityID != "fac-a" || tr.FromFacilityName != "fac-a clinic" {
		t.Errorf("expected source from registry, got %s/%s", tr.FromFacilityID, tr.FromFacilityName)
	}
	if tr.PatientName != "Amina Otieno" || tr.PatientPhone != "+254712345678" {
		t.Errorf("expected patient details from registry, got %s/%s", tr.PatientName, tr.PatientPhone)
	}
	if !tr.CreatedAt.Equal(testNow) {
		t.Errorf("expected createdAt %v, got %v", testNow, tr.CreatedAt)
	}
	if types := f.rec.Types(); len(types) != 1 || types[0] != events.TransferRequested {
		t.Errorf("expected transfer.requested, got %v", types)
	}
}

func TestRequestTransfer_Validation(t *testing.T) {
	f := newFixture()
	pid := f.store.bind("Amina", "+254712345678", "fac-a")
	tests := []struct {
		name string
		req  Request
	}{
		{"missing patient", Request{ToFacilityID: "fac-b", Reason: "moved"}},
		{"missing destination", Request{PatientID: pid, Reason: "moved"}},
		{"empty reason", Request{PatientID: pid, ToFacilityID: "fac-b", Reason: "   "}},
		{"same facility", Request{PatientID: pid, ToFacilityID: "fac-a", Reason: "moved"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RequestTransfer(context.Background(), tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRequestTransfer_Duplicate(t *testing.T) {
	f := newFixture()
	tr, _ := f.pending(t)

	_, err := f.svc.RequestTransfer(context.Background(), Request{PatientID: tr.PatientID, ToFacilityID: "fac-b", Reason: "again"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestRequestTransfer_StaleSource(t *testing.T) {
	f := newFixture()
	pid := f.store.bind("Amina", "+254712345678", "fac-a")

	_, err := f.svc.RequestTransfer(context.Background(), Request{
		PatientID: pid, FromFacilityID: "fac-c", ToFacilityID: "fac-b", Reason: "moved",
	})
	if !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale, got %v", err)
	}
}

func TestApproveTransfer_RebindsAtomically(t *testing.T) {
	f := newFixture()
	tr, pid := f.pending(t)
	f.clk.Advance(time.Hour)

	got, err := f.svc.ApproveTransfer(context.Background(), tr.ID, clinic("fac-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusApproved || got.ApprovedAt == nil || *got.ApprovedBy != "nurse-fac-a" {
		t.Errorf("unexpected approved transfer %+v", got)
	}

	stored, _ := f.store.GetByID(context.Background(), tr.ID)
	b, _ := f.store.Binding(context.Background(), pid)
	if stored.Status != StatusApproved || b.FacilityID != "fac-b" || b.FacilityName != "fac-b clinic" {
		t.Errorf("expected approved and rebound, got status=%s facility=%s", stored.Status, b.FacilityID)
	}
	if f.tx.calls != 1 {
		t.Errorf("expected one transaction, got %d", f.tx.calls)
	}
	types := f.rec.Types()
	if types[len(types)-1] != events.TransferApproved {
		t.Errorf("expected transfer.approved last, got %v", types)
	}
}

func TestApproveTransfer_RebindFailureRollsBack(t *testing.T) {
	f := newFixture()
	tr, pid := f.pending(t)
	f.store.rebindErr = errors.New("constraint violation")

	if _, err := f.svc.ApproveTransfer(context.Background(), tr.ID, clinic("fac-a")); err == nil {
		t.Fatal("expected error")
	}

	stored, _ := f.store.GetByID(context.Background(), tr.ID)
	b, _ := f.store.Binding(context.Background(), pid)
	if stored.Status != StatusPending || stored.ApprovedAt != nil {
		t.Errorf("expected transfer to stay pending, got %s", stored.Status)
	}
	if b.FacilityID != "fac-a" {
		t.Errorf("expected binding unchanged, got %s", b.FacilityID)
	}
	for _, typ := range f.rec.Types() {
		if typ == events.TransferApproved {
			t.Error("did not expect transfer.approved after rollback")
		}
	}
}

func TestApproveTransfer_OnlySourceFacility(t *testing.T) {
	f := newFixture()
	tr, pid := f.pending(t)

	for _, p := range []auth.Principal{clinic("fac-b"), clinic("fac-c"), {UserID: "x", Roles: []string{auth.RoleSuperAdmin}}} {
		if _, err := f.svc.ApproveTransfer(context.Background(), tr.ID, p); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden for %s, got %v", p.FacilityID, err)
		}
	}
	b, _ := f.store.Binding(context.Background(), pid)
	if b.FacilityID != "fac-a" {
		t.Errorf("expected binding unchanged, got %s", b.FacilityID)
	}
}

func TestApproveTransfer_NotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.ApproveTransfer(context.Background(), uuid.New(), clinic("fac-a")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApproveTransfer_StaleBinding(t *testing.T) {
	f := newFixture()
	tr, pid := f.pending(t)
	f.store.Rebind(context.Background(), pid, "fac-a", "fac-c", "fac-c clinic")

	if _, err := f.svc.ApproveTransfer(context.Background(), tr.ID, clinic("fac-a")); !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale, got %v", err)
	}
	stored, _ := f.store.GetByID(context.Background(), tr.ID)
	if stored.Status != StatusPending {
		t.Errorf("expected pending, got %s", stored.Status)
	}
}

func TestApproveTransfer_ConcurrentApprovalsForOnePatient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pid := f.store.bind("Amina Otieno", "+254712345678", "fac-a")

	var ids []uuid.UUID
	for _, to := range []string{"fac-b", "fac-c"} {
		tr, err := f.svc.RequestTransfer(ctx, Request{PatientID: pid, ToFacilityID: to, ToFacilityName: to + " clinic", Reason: "moved"})
		if err != nil {
			t.Fatalf("request to %s: %v", to, err)
		}
		ids = append(ids, tr.ID)
	}

	// Both approvals read the binding before either rebinds.
	var read sync.WaitGroup
	read.Add(2)
	f.store.onBinding = func() {
		read.Done()
		read.Wait()
	}

	errs := make([]error, len(ids))
	var done sync.WaitGroup
	for i, id := range ids {
		done.Add(1)
		go func(i int, id uuid.UUID) {
			defer done.Done()
			_, errs[i] = f.svc.ApproveTransfer(ctx, id, clinic("fac-a"))
		}(i, id)
	}
	done.Wait()
	f.store.onBinding = nil

	winner, loser := -1, -1
	for i, err := range errs {
		switch {
		case err == nil:
			winner = i
		case errors.Is(err, ErrStale):
			loser = i
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winner == -1 || loser == -1 {
		t.Fatalf("expected one approval and one stale, got %v", errs)
	}

	won, _ := f.store.GetByID(ctx, ids[winner])
	lost, _ := f.store.GetByID(ctx, ids[loser])
	b, _ := f.store.Binding(ctx, pid)
	if won.Status != StatusApproved || b.FacilityID != won.ToFacilityID {
		t.Errorf("expected binding at approved destination %s, got status=%s binding=%s", won.ToFacilityID, won.Status, b.FacilityID)
	}
	if lost.Status != StatusPending || lost.ApprovedAt != nil {
		t.Errorf("expected losing transfer to stay pending, got %s", lost.Status)
	}
}

func TestTerminalTransitions(t *testing.T) {
	t.Run("approve after reject", func(t *testing.T) {
		f := newFixture()
		tr, pid := f.pending(t)
		if _, err := f.svc.RejectTransfer(context.Background(), tr.ID, clinic("fac-a"), "not our patient"); err != nil {
			t.Fatalf("reject: %v", err)
		}
		before, _ := f.store.GetByID(context.Background(), tr.ID)

		_, err := f.svc.ApproveTransfer(context.Background(), tr.ID, clinic("fac-a"))
		if !errors.Is(err, ErrNotPending) {
			t.Fatalf("expected ErrNotPending, got %v", err)
		}
		after, _ := f.store.GetByID(context.Background(), tr.ID)
		if after.Status != StatusRejected || after.ApprovedAt != nil || *after.RejectionReason != *before.RejectionReason {
			t.Errorf("expected record unchanged, got %+v", after)
		}
		if b, _ := f.store.Binding(context.Background(), pid); b.FacilityID != "fac-a" {
			t.Errorf("expected binding unchanged, got %s", b.FacilityID)
		}
	})

	t.Run("reject after approve", func(t *testing.T) {
		f := newFixture()
		tr, pid := f.pending(t)
		if _, err := f.svc.ApproveTransfer(context.Background(), tr.ID, clinic("fac-a")); err != nil {
			t.Fatalf("approve: %v", err)
		}

		_, err := f.svc.RejectTransfer(context.Background(), tr.ID, clinic("fac-a"), "changed my mind")
		if !errors.Is(err, ErrNotPending) {
			t.Fatalf("expected ErrNotPending, got %v", err)
		}
		after, _ := f.store.GetByID(context.Background(), tr.ID)
		if after.Status != StatusApproved || after.RejectedAt != nil {
			t.Errorf("expected record unchanged, got %+v", after)
		}
		if b, _ := f.store.Binding(context.Background(), pid); b.FacilityID != "fac-b" {
			t.Errorf("expected binding to stay at destination, got %s", b.FacilityID)
		}
	})

	t.Run("approve twice", func(t *testing.T) {
		f := newFixture()
		tr, _ := f.pending(t)
		f.svc.ApproveTransfer(context.Background(), tr.ID, clinic("fac-a"))
		if _, err := f.svc.ApproveTransfer(context.Background(), tr.ID, clinic("fac-a")); !errors.Is(err, ErrNotPending) {
			t.Errorf("expected ErrNotPending, got %v", err)
		}
	})
}

func TestRejectTransfer(t *testing.T) {
	f := newFixture()
	tr, pid := f.pending(t)

	if _, err := f.svc.RejectTransfer(context.Background(), tr.ID, clinic("fac-a"), " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty reason, got %v", err)
	}
	if _, err := f.svc.RejectTransfer(context.Background(), tr.ID, clinic("fac-b"), "no"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for destination facility, got %v", err)
	}

	got, err := f.svc.RejectTransfer(context.Background(), tr.ID, clinic("fac-a"), "Patient still attending here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusRejected || got.RejectedAt == nil || *got.RejectedBy != "nurse-fac-a" || *got.RejectionReason != "Patient still attending here" {
		t.Errorf("unexpected rejected transfer %+v", got)
	}
	if b, _ := f.store.Binding(context.Background(), pid); b.FacilityID != "fac-a" {
		t.Errorf("expected binding unchanged, got %s", b.FacilityID)
	}
}

func TestGetTransfers_Direction(t *testing.T) {
	f := newFixture()
	// a -> b, c -> a, b -> c
	for _, pair := range [][2]string{{"fac-a", "fac-b"}, {"fac-c", "fac-a"}, {"fac-b", "fac-c"}} {
		pid := f.store.bind("P", "+2547000000", pair[0])
		if _, err := f.svc.RequestTransfer(context.Background(), Request{PatientID: pid, ToFacilityID: pair[1], Reason: "moved"}); err != nil {
			t.Fatalf("request: %v", err)
		}
		f.clk.Advance(time.Minute)
	}

	tests := []struct {
		name   string
		viewer auth.Principal
		dir    Direction
		want   int
	}{
		{"incoming to a", clinic("fac-a"), DirectionIncoming, 1},
		{"outgoing from a", clinic("fac-a"), DirectionOutgoing, 1},
		{"all involving a", clinic("fac-a"), DirectionAny, 2},
		{"superadmin sees all", auth.Principal{UserID: "root", Roles: []string{auth.RoleSuperAdmin}}, DirectionAny, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := f.svc.GetTransfers(context.Background(), tt.viewer, Filter{Direction: tt.dir, Limit: 20})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if total != tt.want || len(items) != tt.want {
				t.Errorf("expected %d, got total=%d len=%d", tt.want, total, len(items))
			}
		})
	}
}

func TestGetTransfers_SuperadminDirection(t *testing.T) {
	f := newFixture()
	for _, pair := range [][2]string{{"fac-a", "fac-b"}, {"fac-c", "fac-a"}} {
		pid := f.store.bind("P", "+2547000000", pair[0])
		if _, err := f.svc.RequestTransfer(context.Background(), Request{PatientID: pid, ToFacilityID: pair[1], Reason: "moved"}); err != nil {
			t.Fatalf("request: %v", err)
		}
	}
	root := auth.Principal{UserID: "root", Roles: []string{auth.RoleSuperAdmin}}

	for _, dir := range []Direction{DirectionIncoming, DirectionOutgoing} {
		if _, _, err := f.svc.GetTransfers(context.Background(), root, Filter{Direction: dir, Limit: 20}); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error for %s without a facility, got %v", dir, err)
		}
	}

	items, total, err := f.svc.GetTransfers(context.Background(), root, Filter{Direction: DirectionIncoming, FacilityID: "fac-a", Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ToFacilityID != "fac-a" {
		t.Errorf("expected the one transfer into fac-a, got total=%d", total)
	}

	// A clinic user cannot widen the filter to another facility.
	items, _, err = f.svc.GetTransfers(context.Background(), clinic("fac-b"), Filter{FacilityID: "fac-c", Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ToFacilityID != "fac-b" {
		t.Errorf("expected only fac-b transfers, got %d", len(items))
	}
}

func TestGetTransfers_StatusFilter(t *testing.T) {
	f := newFixture()
	tr, _ := f.pending(t)
	f.svc.ApproveTransfer(context.Background(), tr.ID, clinic("fac-a"))
	pid := f.store.bind("Other", "+254700000002", "fac-a")
	f.svc.RequestTransfer(context.Background(), Request{PatientID: pid, ToFacilityID: "fac-b", Reason: "moved"})

	items, _, err := f.svc.GetTransfers(context.Background(), clinic("fac-b"), Filter{Status: StatusPending, Limit: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].PatientID != pid {
		t.Errorf("expected only the pending transfer, got %d", len(items))
	}
}

func TestGetTransfer_Visibility(t *testing.T) {
	f := newFixture()
	tr, _ := f.pending(t)

	if _, err := f.svc.GetTransfer(context.Background(), tr.ID, clinic("fac-b")); err != nil {
		t.Errorf("expected destination to see transfer, got %v", err)
	}
	if _, err := f.svc.GetTransfer(context.Background(), tr.ID, clinic("fac-z")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unrelated facility, got %v", err)
	}
}
