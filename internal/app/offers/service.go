// Package offers manages the lifecycle of trip offers published by drivers.
package offers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/carpool-api/internal/app/apperr"
	"github.com/Overland-East-Bay/carpool-api/internal/app/cascade"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/carpoolrepo"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/clock"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/outings"
)

// Withdrawer runs the withdrawal cascade for one offer.
type Withdrawer interface {
	OnOfferWithdrawn(ctx context.Context, id domain.TripOfferID, reason domain.WithdrawReason) (cascade.Withdrawal, error)
}

type Service struct {
	repo     carpoolrepo.Repository
	outings  outings.Registry
	withdraw Withdrawer
	clk      clock.Clock

	newOfferID func() domain.TripOfferID
}

func NewService(repo carpoolrepo.Repository, registry outings.Registry, withdraw Withdrawer, clk clock.Clock) *Service {
	return &Service{
		repo:     repo,
		outings:  registry,
		withdraw: withdraw,
		clk:      clk,
		newOfferID: func() domain.TripOfferID {
			return domain.TripOfferID(uuid.NewString())
		},
	}
}

// SetNewOfferIDForTest overrides offer ID generation for deterministic tests.
// It should not be used in production code.
func (s *Service) SetNewOfferIDForTest(fn func() domain.TripOfferID) {
	if fn != nil {
		s.newOfferID = fn
	}
}

func (s *Service) CreateOffer(ctx context.Context, driver domain.MemberID, outingID domain.OutingID, in CreateOfferInput) (domain.TripOffer, error) {
	if err := validateSeats(in.SeatsTotal); err != nil {
		return domain.TripOffer{}, err
	}
	meetingPoint, err := normalizeMeetingPoint(in.MeetingPoint)
	if err != nil {
		return domain.TripOffer{}, err
	}
	if in.DepartureTime.IsZero() {
		return domain.TripOffer{}, apperr.Validation("invalid departureTime", map[string]any{"departureTime": "is required"})
	}
	notes, err := normalizeNotes(in.Notes)
	if err != nil {
		return domain.TripOffer{}, err
	}

	if err := s.checkOutingOpen(ctx, outingID); err != nil {
		return domain.TripOffer{}, err
	}

	now := s.clk.Now().UTC()
	o := domain.TripOffer{
		ID:            s.newOfferID(),
		OutingID:      outingID,
		DriverID:      driver,
		SeatsTotal:    in.SeatsTotal,
		MeetingPoint:  meetingPoint,
		Notes:         notes,
		DepartureTime: in.DepartureTime.UTC(),
		Status:        domain.TripOfferStatusActive,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateOffer(ctx, o); err != nil {
		if errors.Is(err, carpoolrepo.ErrDuplicateActiveOffer) {
			return domain.TripOffer{}, apperr.ErrDuplicateOffer.WithDetails(map[string]any{"outingId": string(outingID)})
		}
		if errors.Is(err, carpoolrepo.ErrAlreadyExists) {
			// Extremely unlikely (UUID collision); treat as conflict.
			return domain.TripOffer{}, apperr.New(apperr.KindConflict, "TRIP_OFFER_ID_CONFLICT", "trip offer id conflict")
		}
		return domain.TripOffer{}, fmt.Errorf("create trip offer: %w", err)
	}
	return o, nil
}

func (s *Service) UpdateOffer(ctx context.Context, driver domain.MemberID, id domain.TripOfferID, in UpdateOfferInput) (domain.TripOffer, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return domain.TripOffer{}, err
	}
	if cur.DriverID != driver {
		return domain.TripOffer{}, apperr.ErrNotOwner
	}
	if !cur.IsActive() {
		return domain.TripOffer{}, apperr.ErrOfferNotActive
	}
	if in.ExpectedVersion.IsSpecified() && (in.ExpectedVersion.IsNull() || in.ExpectedVersion.Value() != cur.Version) {
		return domain.TripOffer{}, apperr.ErrOfferConcurrentlyModified.WithDetails(map[string]any{"version": cur.Version})
	}
	started, err := s.outings.IsStarted(ctx, cur.OutingID)
	if err != nil {
		return domain.TripOffer{}, mapOutingErr(err)
	}
	if started {
		return domain.TripOffer{}, apperr.ErrOutingStarted
	}

	u := carpoolrepo.OfferUpdate{
		ID:              cur.ID,
		DriverID:        driver,
		ExpectedVersion: cur.Version,
		SeatsTotal:      cur.SeatsTotal,
		MeetingPoint:    cur.MeetingPoint,
		Notes:           cur.Notes,
		DepartureTime:   cur.DepartureTime,
		UpdatedAt:       s.clk.Now().UTC(),
	}

	if in.SeatsTotal.IsSpecified() {
		if in.SeatsTotal.IsNull() {
			return domain.TripOffer{}, apperr.Validation("invalid seatsTotal", map[string]any{"seatsTotal": "cannot be null"})
		}
		if err := validateSeats(in.SeatsTotal.Value()); err != nil {
			return domain.TripOffer{}, err
		}
		u.SeatsTotal = in.SeatsTotal.Value()
	}
	if in.MeetingPoint.IsSpecified() {
		if in.MeetingPoint.IsNull() {
			return domain.TripOffer{}, apperr.Validation("invalid meetingPoint", map[string]any{"meetingPoint": "cannot be null"})
		}
		mp, err := normalizeMeetingPoint(in.MeetingPoint.Value())
		if err != nil {
			return domain.TripOffer{}, err
		}
		u.MeetingPoint = mp
	}
	if in.DepartureTime.IsSpecified() {
		if in.DepartureTime.IsNull() || in.DepartureTime.Value().IsZero() {
			return domain.TripOffer{}, apperr.Validation("invalid departureTime", map[string]any{"departureTime": "cannot be null"})
		}
		u.DepartureTime = in.DepartureTime.Value().UTC()
	}
	if in.Notes.IsSpecified() {
		if in.Notes.IsNull() {
			u.Notes = nil
		} else {
			v := in.Notes.Value()
			n, err := normalizeNotes(&v)
			if err != nil {
				return domain.TripOffer{}, err
			}
			u.Notes = n
		}
	}

	out, err := s.repo.UpdateOffer(ctx, u)
	if err != nil {
		switch {
		case errors.Is(err, carpoolrepo.ErrOfferNotFound):
			return domain.TripOffer{}, apperr.ErrTripOfferNotFound
		case errors.Is(err, carpoolrepo.ErrNotOwner):
			return domain.TripOffer{}, apperr.ErrNotOwner
		case errors.Is(err, carpoolrepo.ErrOfferNotActive):
			return domain.TripOffer{}, apperr.ErrOfferNotActive
		case errors.Is(err, carpoolrepo.ErrVersionConflict):
			return domain.TripOffer{}, apperr.ErrOfferConcurrentlyModified
		case errors.Is(err, carpoolrepo.ErrCapacityBelowBooked):
			// The live count may have moved since cur was read.
			snap, serr := s.repo.CapacitySnapshot(ctx, id)
			details := map[string]any{"seatsTotal": u.SeatsTotal}
			if serr == nil {
				details["confirmedCount"] = snap.ConfirmedCount
			}
			return domain.TripOffer{}, apperr.ErrCapacityBelowBooked.WithDetails(details)
		}
		return domain.TripOffer{}, fmt.Errorf("update trip offer: %w", err)
	}
	return out, nil
}

// WithdrawOffer retracts the driver's offer and cancels every confirmed booking on it.
func (s *Service) WithdrawOffer(ctx context.Context, driver domain.MemberID, id domain.TripOfferID) (WithdrawResult, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return WithdrawResult{}, err
	}
	// Drivers never change, so ownership checked here still holds inside the cascade.
	if cur.DriverID != driver {
		return WithdrawResult{}, apperr.ErrNotOwner
	}
	if !cur.IsActive() {
		return WithdrawResult{}, apperr.ErrOfferNotActive
	}
	w, err := s.withdraw.OnOfferWithdrawn(ctx, id, domain.WithdrawReasonDriver)
	if err != nil {
		return WithdrawResult{}, err
	}
	return WithdrawResult(w), nil
}

func (s *Service) GetOffer(ctx context.Context, id domain.TripOfferID) (domain.TripOffer, error) {
	return s.load(ctx, id)
}

// CapacitySnapshot is for display only. It must never be used to decide whether a booking succeeds.
func (s *Service) CapacitySnapshot(ctx context.Context, id domain.TripOfferID) (domain.CapacitySnapshot, error) {
	snap, err := s.repo.CapacitySnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, carpoolrepo.ErrOfferNotFound) {
			return domain.CapacitySnapshot{}, apperr.ErrTripOfferNotFound
		}
		return domain.CapacitySnapshot{}, fmt.Errorf("capacity snapshot: %w", err)
	}
	return snap, nil
}

func (s *Service) ListOffersForOuting(ctx context.Context, outingID domain.OutingID, includeWithdrawn bool) ([]domain.TripOffer, error) {
	list, err := s.repo.ListOffersByOuting(ctx, outingID, includeWithdrawn)
	if err != nil {
		return nil, fmt.Errorf("list trip offers: %w", err)
	}
	return list, nil
}

func (s *Service) load(ctx context.Context, id domain.TripOfferID) (domain.TripOffer, error) {
	o, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		if errors.Is(err, carpoolrepo.ErrOfferNotFound) {
			return domain.TripOffer{}, apperr.ErrTripOfferNotFound
		}
		return domain.TripOffer{}, fmt.Errorf("load trip offer: %w", err)
	}
	return o, nil
}

func (s *Service) checkOutingOpen(ctx context.Context, id domain.OutingID) error {
	cancelled, err := s.outings.IsCancelled(ctx, id)
	if err != nil {
		return mapOutingErr(err)
	}
	if cancelled {
		return apperr.ErrOutingCancelled
	}
	started, err := s.outings.IsStarted(ctx, id)
	if err != nil {
		return mapOutingErr(err)
	}
	if started {
		return apperr.ErrOutingStarted
	}
	return nil
}

func validateSeats(n int) error {
	if n < domain.MinSeatsTotal || n > domain.MaxSeatsTotal {
		return apperr.ErrInvalidSeatsTotal.WithDetails(map[string]any{
			"seatsTotal": fmt.Sprintf("must be between %d and %d", domain.MinSeatsTotal, domain.MaxSeatsTotal),
		})
	}
	return nil
}

func normalizeMeetingPoint(s string) (string, error) {
	mp := domain.NormalizeText(s)
	if mp == "" {
		return "", apperr.Validation("invalid meetingPoint", map[string]any{"meetingPoint": "must be non-empty"})
	}
	if utf8.RuneCountInString(mp) > MaxMeetingPointLen {
		return "", apperr.Validation("invalid meetingPoint", map[string]any{"meetingPoint": fmt.Sprintf("must be at most %d characters", MaxMeetingPointLen)})
	}
	return mp, nil
}

// normalizeNotes trims notes; blank notes are stored as absent.
func normalizeNotes(p *string) (*string, error) {
	if p == nil {
		return nil, nil
	}
	n := strings.TrimSpace(*p)
	if n == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(n) > MaxNotesLen {
		return nil, apperr.Validation("invalid notes", map[string]any{"notes": fmt.Sprintf("must be at most %d characters", MaxNotesLen)})
	}
	return &n, nil
}

func mapOutingErr(err error) error {
	if errors.Is(err, outings.ErrNotFound) {
		return apperr.ErrOutingNotFound
	}
	return fmt.Errorf("outing registry: %w", err)
}
