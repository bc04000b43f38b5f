package carpoolrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/carpool-api/internal/adapters/postgres"
	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/carpoolrepo"
)

const (
	offerColumns = `id, outing_id, driver_id, seats_total, confirmed_count, meeting_point, notes, departure_time,
		status, withdraw_reason, version, created_at, updated_at, withdrawn_at`
	bookingColumns = `id, trip_offer_id, outing_id, passenger_id, status, cancel_reason, created_at, cancelled_at`
)

// Repo is a Postgres implementation of carpoolrepo.Repository.
//
// Every mutating call is one transaction that locks the offer row first, so the lock scope is one offer.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// lockedOffer is the subset of an offer row read under FOR UPDATE.
type lockedOffer struct {
	outingID       string
	driverID       string
	status         string
	seatsTotal     int
	confirmedCount int
	version        int64
}

func (r *Repo) CreateOffer(ctx context.Context, o domain.TripOffer) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	offerUUID, err := uuid.Parse(string(o.ID))
	if err != nil {
		return fmt.Errorf("invalid trip offer id: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO trip_offers (
			id,
			outing_id,
			driver_id,
			seats_total,
			confirmed_count,
			meeting_point,
			notes,
			departure_time,
			status,
			withdraw_reason,
			version,
			created_at,
			updated_at,
			withdrawn_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		offerUUID,
		string(o.OutingID),
		string(o.DriverID),
		o.SeatsTotal,
		o.ConfirmedCount,
		o.MeetingPoint,
		o.Notes,
		o.DepartureTime.UTC(),
		string(o.Status),
		withdrawReasonForDB(o.WithdrawReason),
		o.Version,
		o.CreatedAt.UTC(),
		o.UpdatedAt.UTC(),
		utcPtr(o.WithdrawnAt),
	)
	if err != nil {
		switch {
		case postgres.IsViolation(err, postgres.UniqueViolationCode, "trip_offers_one_active_per_driver"):
			return carpoolrepo.ErrDuplicateActiveOffer
		case postgres.IsViolation(err, postgres.UniqueViolationCode, "trip_offers_pkey"):
			return carpoolrepo.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *Repo) UpdateOffer(ctx context.Context, u carpoolrepo.OfferUpdate) (domain.TripOffer, error) {
	if r.pool == nil {
		return domain.TripOffer{}, errors.New("nil postgres pool")
	}
	offerUUID, ok := parseUUID(string(u.ID))
	if !ok {
		return domain.TripOffer{}, carpoolrepo.ErrOfferNotFound
	}

	var out domain.TripOffer
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := lockOffer(ctx, tx, offerUUID)
		if err != nil {
			return err
		}
		switch {
		case cur.driverID != string(u.DriverID):
			return carpoolrepo.ErrNotOwner
		case cur.status != string(domain.TripOfferStatusActive):
			return carpoolrepo.ErrOfferNotActive
		case cur.version != u.ExpectedVersion:
			return carpoolrepo.ErrVersionConflict
		case u.SeatsTotal < cur.confirmedCount:
			return carpoolrepo.ErrCapacityBelowBooked
		}

		row := tx.QueryRow(ctx, `
			UPDATE trip_offers SET
				seats_total = $2,
				meeting_point = $3,
				notes = $4,
				departure_time = $5,
				updated_at = $6,
				version = version + 1
			WHERE id = $1
			RETURNING `+offerColumns,
			offerUUID,
			u.SeatsTotal,
			u.MeetingPoint,
			u.Notes,
			u.DepartureTime.UTC(),
			u.UpdatedAt.UTC(),
		)
		out, err = scanOffer(row)
		if postgres.IsViolation(err, postgres.CheckViolationCode, "trip_offers_confirmed_count_range") {
			return carpoolrepo.ErrCapacityBelowBooked
		}
		return err
	})
	if err != nil {
		return domain.TripOffer{}, err
	}
	return out, nil
}

func (r *Repo) GetOffer(ctx context.Context, id domain.TripOfferID) (domain.TripOffer, error) {
	if r.pool == nil {
		return domain.TripOffer{}, errors.New("nil postgres pool")
	}
	offerUUID, ok := parseUUID(string(id))
	if !ok {
		return domain.TripOffer{}, carpoolrepo.ErrOfferNotFound
	}
	o, err := scanOffer(r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM trip_offers WHERE id = $1`, offerUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TripOffer{}, carpoolrepo.ErrOfferNotFound
		}
		return domain.TripOffer{}, err
	}
	return o, nil
}

func (r *Repo) ListOffersByOuting(ctx context.Context, outingID domain.OutingID, includeWithdrawn bool) ([]domain.TripOffer, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+offerColumns+`
		FROM trip_offers
		WHERE outing_id = $1
		  AND ($2 OR status = 'ACTIVE')
		ORDER BY departure_time ASC, created_at ASC, id ASC
	`, string(outingID), includeWithdrawn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TripOffer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) CapacitySnapshot(ctx context.Context, id domain.TripOfferID) (domain.CapacitySnapshot, error) {
	if r.pool == nil {
		return domain.CapacitySnapshot{}, errors.New("nil postgres pool")
	}
	offerUUID, ok := parseUUID(string(id))
	if !ok {
		return domain.CapacitySnapshot{}, carpoolrepo.ErrOfferNotFound
	}
	var s domain.CapacitySnapshot
	err := r.pool.QueryRow(ctx, `SELECT seats_total, confirmed_count FROM trip_offers WHERE id = $1`, offerUUID).
		Scan(&s.SeatsTotal, &s.ConfirmedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CapacitySnapshot{}, carpoolrepo.ErrOfferNotFound
		}
		return domain.CapacitySnapshot{}, err
	}
	return s, nil
}

func (r *Repo) ReserveSeat(ctx context.Context, res carpoolrepo.Reservation) (domain.Booking, error) {
	if r.pool == nil {
		return domain.Booking{}, errors.New("nil postgres pool")
	}
	bookingUUID, err := uuid.Parse(string(res.BookingID))
	if err != nil {
		return domain.Booking{}, fmt.Errorf("invalid booking id: %w", err)
	}
	offerUUID, ok := parseUUID(string(res.TripOfferID))
	if !ok {
		return domain.Booking{}, carpoolrepo.ErrOfferNotFound
	}

	var out domain.Booking
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := lockOffer(ctx, tx, offerUUID)
		if err != nil {
			return err
		}
		if cur.status != string(domain.TripOfferStatusActive) {
			return carpoolrepo.ErrOfferNotActive
		}
		if cur.driverID == string(res.PassengerID) {
			return carpoolrepo.ErrSelfBooking
		}
		var held bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM bookings
				WHERE outing_id = $1 AND passenger_id = $2 AND status = 'CONFIRMED'
			)
		`, cur.outingID, string(res.PassengerID)).Scan(&held); err != nil {
			return err
		}
		if held {
			return carpoolrepo.ErrAlreadyBooked
		}
		if cur.confirmedCount >= cur.seatsTotal {
			return carpoolrepo.ErrTripFull
		}

		// A concurrent booking for the same passenger on another offer is caught by the
		// partial unique index once that transaction commits.
		row := tx.QueryRow(ctx, `
			INSERT INTO bookings (id, trip_offer_id, outing_id, passenger_id, status, created_at)
			VALUES ($1, $2, $3, $4, 'CONFIRMED', $5)
			RETURNING `+bookingColumns,
			bookingUUID,
			offerUUID,
			cur.outingID,
			string(res.PassengerID),
			res.CreatedAt.UTC(),
		)
		out, err = scanBooking(row)
		if err != nil {
			switch {
			case postgres.IsViolation(err, postgres.UniqueViolationCode, "bookings_one_confirmed_per_outing"):
				return carpoolrepo.ErrAlreadyBooked
			case postgres.IsViolation(err, postgres.UniqueViolationCode, "bookings_pkey"):
				return carpoolrepo.ErrAlreadyExists
			}
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE trip_offers
			SET confirmed_count = confirmed_count + 1
			WHERE id = $1 AND confirmed_count < seats_total
		`, offerUUID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return carpoolrepo.ErrTripFull
		}
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *Repo) CancelBooking(ctx context.Context, id domain.BookingID, passenger domain.MemberID, at time.Time) (domain.Booking, error) {
	if r.pool == nil {
		return domain.Booking{}, errors.New("nil postgres pool")
	}
	bookingUUID, ok := parseUUID(string(id))
	if !ok {
		return domain.Booking{}, carpoolrepo.ErrBookingNotFound
	}

	var out domain.Booking
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// trip_offer_id is immutable, so it can be read before taking the offer lock.
		var offerUUID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT trip_offer_id FROM bookings WHERE id = $1`, bookingUUID).Scan(&offerUUID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return carpoolrepo.ErrBookingNotFound
			}
			return err
		}
		if _, err := lockOffer(ctx, tx, offerUUID); err != nil {
			return err
		}

		var owner, status string
		if err := tx.QueryRow(ctx, `SELECT passenger_id, status FROM bookings WHERE id = $1 FOR UPDATE`, bookingUUID).Scan(&owner, &status); err != nil {
			return err
		}
		if owner != string(passenger) {
			return carpoolrepo.ErrNotOwner
		}
		if status != string(domain.BookingStatusConfirmed) {
			return carpoolrepo.ErrAlreadyCancelled
		}

		row := tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = 'CANCELLED', cancel_reason = $2, cancelled_at = $3
			WHERE id = $1
			RETURNING `+bookingColumns,
			bookingUUID,
			string(domain.CancelReasonPassenger),
			at.UTC(),
		)
		var err error
		out, err = scanBooking(row)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE trip_offers SET confirmed_count = confirmed_count - 1 WHERE id = $1`, offerUUID)
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *Repo) WithdrawOffer(ctx context.Context, w carpoolrepo.Withdrawal) (domain.TripOffer, []domain.Booking, error) {
	if r.pool == nil {
		return domain.TripOffer{}, nil, errors.New("nil postgres pool")
	}
	offerUUID, ok := parseUUID(string(w.TripOfferID))
	if !ok {
		return domain.TripOffer{}, nil, carpoolrepo.ErrOfferNotFound
	}

	var (
		offer     domain.TripOffer
		cancelled []domain.Booking
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := lockOffer(ctx, tx, offerUUID)
		if err != nil {
			return err
		}
		if cur.status != string(domain.TripOfferStatusActive) {
			return carpoolrepo.ErrOfferNotActive
		}

		rows, err := tx.Query(ctx, `
			UPDATE bookings
			SET status = 'CANCELLED', cancel_reason = $2, cancelled_at = $3
			WHERE trip_offer_id = $1 AND status = 'CONFIRMED'
			RETURNING `+bookingColumns,
			offerUUID,
			string(domain.CancelReasonFor(w.Reason)),
			w.At.UTC(),
		)
		if err != nil {
			return err
		}
		cancelled = make([]domain.Booking, 0, cur.confirmedCount)
		for rows.Next() {
			b, err := scanBooking(rows)
			if err != nil {
				rows.Close()
				return err
			}
			cancelled = append(cancelled, b)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE trip_offers SET
				status = 'WITHDRAWN',
				withdraw_reason = $2,
				withdrawn_at = $3,
				updated_at = $3,
				confirmed_count = 0,
				version = version + 1
			WHERE id = $1
			RETURNING `+offerColumns,
			offerUUID,
			string(w.Reason),
			w.At.UTC(),
		)
		offer, err = scanOffer(row)
		return err
	})
	if err != nil {
		return domain.TripOffer{}, nil, err
	}

	sort.Slice(cancelled, func(i, j int) bool {
		if !cancelled[i].CreatedAt.Equal(cancelled[j].CreatedAt) {
			return cancelled[i].CreatedAt.Before(cancelled[j].CreatedAt)
		}
		return string(cancelled[i].ID) < string(cancelled[j].ID)
	})
	return offer, cancelled, nil
}

func (r *Repo) GetBooking(ctx context.Context, id domain.BookingID) (domain.Booking, error) {
	if r.pool == nil {
		return domain.Booking{}, errors.New("nil postgres pool")
	}
	bookingUUID, ok := parseUUID(string(id))
	if !ok {
		return domain.Booking{}, carpoolrepo.ErrBookingNotFound
	}
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Booking{}, carpoolrepo.ErrBookingNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *Repo) ListBookingsByOffer(ctx context.Context, id domain.TripOfferID) ([]domain.Booking, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	offerUUID, ok := parseUUID(string(id))
	if !ok {
		return nil, carpoolrepo.ErrOfferNotFound
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trip_offers WHERE id = $1)`, offerUUID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, carpoolrepo.ErrOfferNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE trip_offer_id = $1
		ORDER BY created_at ASC, id ASC
	`, offerUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repo) FindConfirmedBooking(ctx context.Context, outingID domain.OutingID, passenger domain.MemberID) (domain.Booking, error) {
	if r.pool == nil {
		return domain.Booking{}, errors.New("nil postgres pool")
	}
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE outing_id = $1 AND passenger_id = $2 AND status = 'CONFIRMED'
	`, string(outingID), string(passenger)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Booking{}, carpoolrepo.ErrBookingNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func lockOffer(ctx context.Context, tx pgx.Tx, id uuid.UUID) (lockedOffer, error) {
	var cur lockedOffer
	err := tx.QueryRow(ctx, `
		SELECT outing_id, driver_id, status, seats_total, confirmed_count, version
		FROM trip_offers
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&cur.outingID, &cur.driverID, &cur.status, &cur.seatsTotal, &cur.confirmedCount, &cur.version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lockedOffer{}, carpoolrepo.ErrOfferNotFound
		}
		return lockedOffer{}, err
	}
	return cur, nil
}

func scanOffer(row rowScanner) (domain.TripOffer, error) {
	var (
		o              domain.TripOffer
		id             uuid.UUID
		outingID       string
		driverID       string
		status         string
		withdrawReason *string
		withdrawnAt    *time.Time
	)
	err := row.Scan(
		&id,
		&outingID,
		&driverID,
		&o.SeatsTotal,
		&o.ConfirmedCount,
		&o.MeetingPoint,
		&o.Notes,
		&o.DepartureTime,
		&status,
		&withdrawReason,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
		&withdrawnAt,
	)
	if err != nil {
		return domain.TripOffer{}, err
	}
	o.ID = domain.TripOfferID(id.String())
	o.OutingID = domain.OutingID(outingID)
	o.DriverID = domain.MemberID(driverID)
	o.Status = domain.TripOfferStatus(status)
	if withdrawReason != nil {
		wr := domain.WithdrawReason(*withdrawReason)
		o.WithdrawReason = &wr
	}
	o.DepartureTime = o.DepartureTime.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.WithdrawnAt = utcPtr(withdrawnAt)
	return o, nil
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		b            domain.Booking
		id           uuid.UUID
		offerID      uuid.UUID
		outingID     string
		passengerID  string
		status       string
		cancelReason *string
		cancelledAt  *time.Time
	)
	if err := row.Scan(&id, &offerID, &outingID, &passengerID, &status, &cancelReason, &b.CreatedAt, &cancelledAt); err != nil {
		return domain.Booking{}, err
	}
	b.ID = domain.BookingID(id.String())
	b.TripOfferID = domain.TripOfferID(offerID.String())
	b.OutingID = domain.OutingID(outingID)
	b.PassengerID = domain.MemberID(passengerID)
	b.Status = domain.BookingStatus(status)
	if cancelReason != nil {
		cr := domain.CancelReason(*cancelReason)
		b.CancelReason = &cr
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.CancelledAt = utcPtr(cancelledAt)
	return b, nil
}

func parseUUID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}

func withdrawReasonForDB(p *domain.WithdrawReason) *string {
	if p == nil {
		return nil
	}
	v := string(*p)
	return &v
}

func utcPtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := p.UTC()
	return &v
}
