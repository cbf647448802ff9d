package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mamacare/mamacare/internal/platform/auth"
	"github.com/mamacare/mamacare/internal/platform/clock"
	"github.com/mamacare/mamacare/internal/platform/db"
	"github.com/mamacare/mamacare/internal/platform/events"
)

type Service struct {
	repo      Repository
	registry  Registry
	tx        db.Transactor
	clock     clock.Clock
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewService(repo Repository, registry Registry, tx db.Transactor, clk clock.Clock, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		registry:  registry,
		tx:        tx,
		clock:     clk,
		publisher: pub,
		logger:    logger,
	}
}

// RequestTransfer opens a pending transfer of a patient to the requesting
// facility. The source facility is the patient's current binding.
func (s *Service) RequestTransfer(ctx context.Context, req Request) (*Transfer, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient id is required", ErrValidation)
	}
	if req.ToFacilityID == "" {
		return nil, fmt.Errorf("%w: destination facility is required", ErrValidation)
	}
	if req.Reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}

	b, err := s.registry.Binding(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient binding: %w", err)
	}
	if req.FromFacilityID == "" {
		req.FromFacilityID = b.FacilityID
		req.FromFacilityName = b.FacilityName
	}
	if req.FromFacilityID != b.FacilityID {
		return nil, ErrStale
	}
	if req.FromFacilityID == req.ToFacilityID {
		return nil, fmt.Errorf("%w: patient is already registered at this facility", ErrValidation)
	}
	if req.PatientName == "" {
		req.PatientName = b.PatientName
	}
	if req.PatientPhone == "" {
		req.PatientPhone = b.Phone
	}
	if req.FromFacilityName == "" {
		req.FromFacilityName = b.FacilityName
	}

	t := &Transfer{
		ID:               uuid.New(),
		PatientID:        req.PatientID,
		PatientName:      req.PatientName,
		PatientPhone:     req.PatientPhone,
		FromFacilityID:   req.FromFacilityID,
		FromFacilityName: req.FromFacilityName,
		ToFacilityID:     req.ToFacilityID,
		ToFacilityName:   req.ToFacilityName,
		Reason:           req.Reason,
		Status:           StatusPending,
		RequestedBy:      req.RequestedBy,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer_id", t.ID.String()).
		Str("patient_id", t.PatientID.String()).
		Str("from_facility", t.FromFacilityID).
		Str("to_facility", t.ToFacilityID).
		Msg("transfer requested")
	events.Emit(ctx, s.publisher, s.logger, events.TransferRequested, t.ID.String(), t.FromFacilityID, t)
	return t, nil
}

// ApproveTransfer marks a pending transfer approved and rebinds the patient
// to the destination facility in one transaction. Only a member of the
// source facility may approve.
func (s *Service) ApproveTransfer(ctx context.Context, id uuid.UUID, approver auth.Principal) (*Transfer, error) {
	var out *Transfer
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.decidable(ctx, id, approver)
		if err != nil {
			return err
		}

		b, err := s.registry.Binding(ctx, t.PatientID)
		if err != nil {
			return fmt.Errorf("load patient binding: %w", err)
		}
		if b.FacilityID != t.FromFacilityID {
			return ErrStale
		}

		now := s.clock.Now()
		ok, err := s.repo.Approve(ctx, id, approver.UserID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		if err := s.registry.Rebind(ctx, t.PatientID, t.FromFacilityID, t.ToFacilityID, t.ToFacilityName); err != nil {
			return fmt.Errorf("rebind patient: %w", err)
		}

		by := approver.UserID
		t.Status = StatusApproved
		t.ApprovedAt = &now
		t.ApprovedBy = &by
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer_id", out.ID.String()).
		Str("patient_id", out.PatientID.String()).
		Str("approved_by", approver.UserID).
		Msg("transfer approved")
	events.Emit(ctx, s.publisher, s.logger, events.TransferApproved, out.ID.String(), out.FromFacilityID, out)
	return out, nil
}

// RejectTransfer closes a pending transfer without touching the registry.
func (s *Service) RejectTransfer(ctx context.Context, id uuid.UUID, approver auth.Principal, reason string) (*Transfer, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}

	var out *Transfer
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.decidable(ctx, id, approver)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		ok, err := s.repo.Reject(ctx, id, approver.UserID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		by := approver.UserID
		t.Status = StatusRejected
		t.RejectedAt = &now
		t.RejectedBy = &by
		t.RejectionReason = &reason
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("transfer_id", out.ID.String()).
		Str("rejected_by", approver.UserID).
		Msg("transfer rejected")
	events.Emit(ctx, s.publisher, s.logger, events.TransferRejected, out.ID.String(), out.FromFacilityID, out)
	return out, nil
}

// decidable loads a transfer under lock and checks that approver may decide it.
func (s *Service) decidable(ctx context.Context, id uuid.UUID, approver auth.Principal) (*Transfer, error) {
	t, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsPending() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotPending, t.Status)
	}
	if approver.FacilityID == "" || approver.FacilityID != t.FromFacilityID {
		return nil, ErrForbidden
	}
	return t, nil
}

// GetTransfers lists transfers visible to viewer. Non-superadmins only see
// transfers into or out of their own facility. A superadmin may name any
// facility in the filter; a direction needs one to be relative to.
func (s *Service) GetTransfers(ctx context.Context, viewer auth.Principal, f Filter) ([]*Transfer, int, error) {
	if !viewer.IsSuperAdmin() {
		if viewer.FacilityID == "" {
			return nil, 0, ErrForbidden
		}
		f.FacilityID = viewer.FacilityID
	} else if f.FacilityID == "" {
		f.FacilityID = viewer.FacilityID
	}
	if f.Direction != DirectionAny && f.FacilityID == "" {
		return nil, 0, fmt.Errorf("%w: direction %s needs a facility", ErrValidation, f.Direction)
	}
	return s.repo.List(ctx, f)
}

// GetTransfer returns one transfer if viewer is party to it.
func (s *Service) GetTransfer(ctx context.Context, id uuid.UUID, viewer auth.Principal) (*Transfer, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.IsSuperAdmin() && viewer.FacilityID != t.FromFacilityID && viewer.FacilityID != t.ToFacilityID {
		return nil, ErrNotFound
	}
	return t, nil
}

// IsConflict reports whether err is a state conflict rather than bad input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotPending) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrStale)
}
