package carpoolrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Overland-East-Bay/carpool-api/internal/domain"
	"github.com/Overland-East-Bay/carpool-api/internal/ports/out/carpoolrepo"
)

type driverKey struct {
	outingID domain.OutingID
	driverID domain.MemberID
}

type passengerKey struct {
	outingID    domain.OutingID
	passengerID domain.MemberID
}

// offerState owns one offer and its bookings. outingID and driverID never change after creation.
type offerState struct {
	outingID domain.OutingID
	driverID domain.MemberID

	mu       sync.Mutex
	offer    domain.TripOffer
	bookings []domain.Booking
}

// Repo is an in-memory implementation of carpoolrepo.Repository.
// It is safe for concurrent use.
//
// Lock order: passenger lock, then offer lock, then r.mu. Offer-scoped work never holds r.mu while
// waiting for an offer lock, so unrelated offers do not serialize.
type Repo struct {
	mu             sync.RWMutex
	offers         map[domain.TripOfferID]*offerState
	activeByDriver map[driverKey]domain.TripOfferID

	bookingOffer sync.Map // domain.BookingID -> domain.TripOfferID
	confirmed    sync.Map // passengerKey -> domain.BookingID

	passengerLocks keyedMutex[passengerKey]
}

func NewRepo() *Repo {
	return &Repo{
		offers:         make(map[domain.TripOfferID]*offerState),
		activeByDriver: make(map[driverKey]domain.TripOfferID),
	}
}

func (r *Repo) CreateOffer(ctx context.Context, o domain.TripOffer) error {
	_ = ctx
	if o.ID == "" {
		return carpoolrepo.ErrAlreadyExists // treat empty ID as invalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.offers[o.ID]; ok {
		return carpoolrepo.ErrAlreadyExists
	}
	dk := driverKey{outingID: o.OutingID, driverID: o.DriverID}
	if o.Status == domain.TripOfferStatusActive {
		if _, ok := r.activeByDriver[dk]; ok {
			return carpoolrepo.ErrDuplicateActiveOffer
		}
		r.activeByDriver[dk] = o.ID
	}
	r.offers[o.ID] = &offerState{
		outingID: o.OutingID,
		driverID: o.DriverID,
		offer:    cloneOffer(o),
	}
	return nil
}

func (r *Repo) UpdateOffer(ctx context.Context, u carpoolrepo.OfferUpdate) (domain.TripOffer, error) {
	_ = ctx
	st, ok := r.state(u.ID)
	if !ok {
		return domain.TripOffer{}, carpoolrepo.ErrOfferNotFound
	}
	if st.driverID != u.DriverID {
		return domain.TripOffer{}, carpoolrepo.ErrNotOwner
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	o := &st.offer
	if o.Status != domain.TripOfferStatusActive {
		return domain.TripOffer{}, carpoolrepo.ErrOfferNotActive
	}
	if o.Version != u.ExpectedVersion {
		return domain.TripOffer{}, carpoolrepo.ErrVersionConflict
	}
	if u.SeatsTotal < o.ConfirmedCount {
		return domain.TripOffer{}, carpoolrepo.ErrCapacityBelowBooked
	}
	o.SeatsTotal = u.SeatsTotal
	o.MeetingPoint = u.MeetingPoint
	o.Notes = cloneStringPtr(u.Notes)
	o.DepartureTime = u.DepartureTime
	o.UpdatedAt = u.UpdatedAt
	o.Version++
	return cloneOffer(*o), nil
}

func (r *Repo) GetOffer(ctx context.Context, id domain.TripOfferID) (domain.TripOffer, error) {
	_ = ctx
	st, ok := r.state(id)
	if !ok {
		return domain.TripOffer{}, carpoolrepo.ErrOfferNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneOffer(st.offer), nil
}

func (r *Repo) ListOffersByOuting(ctx context.Context, outingID domain.OutingID, includeWithdrawn bool) ([]domain.TripOffer, error) {
	_ = ctx
	r.mu.RLock()
	states := make([]*offerState, 0)
	for _, st := range r.offers {
		if st.outingID == outingID {
			states = append(states, st)
		}
	}
	r.mu.RUnlock()

	out := make([]domain.TripOffer, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		o := cloneOffer(st.offer)
		st.mu.Unlock()
		if !includeWithdrawn && o.Status != domain.TripOfferStatusActive {
			continue
		}
		out = append(out, o)
	}
	sortOffers(out)
	return out, nil
}

func (r *Repo) CapacitySnapshot(ctx context.Context, id domain.TripOfferID) (domain.CapacitySnapshot, error) {
	_ = ctx
	st, ok := r.state(id)
	if !ok {
		return domain.CapacitySnapshot{}, carpoolrepo.ErrOfferNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return domain.CapacitySnapshot{SeatsTotal: st.offer.SeatsTotal, ConfirmedCount: st.offer.ConfirmedCount}, nil
}

func (r *Repo) ReserveSeat(ctx context.Context, res carpoolrepo.Reservation) (domain.Booking, error) {
	_ = ctx
	if res.BookingID == "" {
		return domain.Booking{}, carpoolrepo.ErrAlreadyExists
	}
	st, ok := r.state(res.TripOfferID)
	if !ok {
		return domain.Booking{}, carpoolrepo.ErrOfferNotFound
	}

	pk := passengerKey{outingID: st.outingID, passengerID: res.PassengerID}
	unlock := r.passengerLocks.Lock(pk)
	defer unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.offer.Status != domain.TripOfferStatusActive {
		return domain.Booking{}, carpoolrepo.ErrOfferNotActive
	}
	if st.driverID == res.PassengerID {
		return domain.Booking{}, carpoolrepo.ErrSelfBooking
	}
	if _, held := r.confirmed.Load(pk); held {
		return domain.Booking{}, carpoolrepo.ErrAlreadyBooked
	}
	if st.offer.ConfirmedCount >= st.offer.SeatsTotal {
		return domain.Booking{}, carpoolrepo.ErrTripFull
	}
	if _, dup := r.bookingOffer.LoadOrStore(res.BookingID, res.TripOfferID); dup {
		return domain.Booking{}, carpoolrepo.ErrAlreadyExists
	}

	b := domain.Booking{
		ID:          res.BookingID,
		TripOfferID: res.TripOfferID,
		OutingID:    st.outingID,
		PassengerID: res.PassengerID,
		Status:      domain.BookingStatusConfirmed,
		CreatedAt:   res.CreatedAt,
	}
	st.bookings = append(st.bookings, b)
	st.offer.ConfirmedCount++
	r.confirmed.Store(pk, b.ID)
	return cloneBooking(b), nil
}

func (r *Repo) CancelBooking(ctx context.Context, id domain.BookingID, passenger domain.MemberID, at time.Time) (domain.Booking, error) {
	_ = ctx
	st, ok := r.stateForBooking(id)
	if !ok {
		return domain.Booking{}, carpoolrepo.ErrBookingNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	i := indexOfBooking(st.bookings, id)
	if i < 0 {
		return domain.Booking{}, carpoolrepo.ErrBookingNotFound
	}
	b := &st.bookings[i]
	if b.PassengerID != passenger {
		return domain.Booking{}, carpoolrepo.ErrNotOwner
	}
	if b.Status != domain.BookingStatusConfirmed {
		return domain.Booking{}, carpoolrepo.ErrAlreadyCancelled
	}
	r.cancelLocked(st, b, domain.CancelReasonPassenger, at)
	return cloneBooking(*b), nil
}

func (r *Repo) WithdrawOffer(ctx context.Context, w carpoolrepo.Withdrawal) (domain.TripOffer, []domain.Booking, error) {
	_ = ctx
	st, ok := r.state(w.TripOfferID)
	if !ok {
		return domain.TripOffer{}, nil, carpoolrepo.ErrOfferNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.offer.Status != domain.TripOfferStatusActive {
		return domain.TripOffer{}, nil, carpoolrepo.ErrOfferNotActive
	}

	reason := domain.CancelReasonFor(w.Reason)
	cancelled := make([]domain.Booking, 0, st.offer.ConfirmedCount)
	for i := range st.bookings {
		b := &st.bookings[i]
		if b.Status != domain.BookingStatusConfirmed {
			continue
		}
		r.cancelLocked(st, b, reason, w.At)
		cancelled = append(cancelled, cloneBooking(*b))
	}

	wr := w.Reason
	at := w.At
	st.offer.Status = domain.TripOfferStatusWithdrawn
	st.offer.WithdrawReason = &wr
	st.offer.WithdrawnAt = &at
	st.offer.UpdatedAt = w.At
	st.offer.Version++

	r.mu.Lock()
	dk := driverKey{outingID: st.outingID, driverID: st.driverID}
	if r.activeByDriver[dk] == w.TripOfferID {
		delete(r.activeByDriver, dk)
	}
	r.mu.Unlock()

	sortBookings(cancelled)
	return cloneOffer(st.offer), cancelled, nil
}

func (r *Repo) GetBooking(ctx context.Context, id domain.BookingID) (domain.Booking, error) {
	_ = ctx
	st, ok := r.stateForBooking(id)
	if !ok {
		return domain.Booking{}, carpoolrepo.ErrBookingNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	i := indexOfBooking(st.bookings, id)
	if i < 0 {
		return domain.Booking{}, carpoolrepo.ErrBookingNotFound
	}
	return cloneBooking(st.bookings[i]), nil
}

func (r *Repo) ListBookingsByOffer(ctx context.Context, id domain.TripOfferID) ([]domain.Booking, error) {
	_ = ctx
	st, ok := r.state(id)
	if !ok {
		return nil, carpoolrepo.ErrOfferNotFound
	}
	st.mu.Lock()
	out := make([]domain.Booking, 0, len(st.bookings))
	for _, b := range st.bookings {
		out = append(out, cloneBooking(b))
	}
	st.mu.Unlock()
	sortBookings(out)
	return out, nil
}

func (r *Repo) FindConfirmedBooking(ctx context.Context, outingID domain.OutingID, passenger domain.MemberID) (domain.Booking, error) {
	v, ok := r.confirmed.Load(passengerKey{outingID: outingID, passengerID: passenger})
	if !ok {
		return domain.Booking{}, carpoolrepo.ErrBookingNotFound
	}
	b, err := r.GetBooking(ctx, v.(domain.BookingID))
	if err != nil {
		return domain.Booking{}, err
	}
	// Cancelled between the index read and the record read.
	if b.Status != domain.BookingStatusConfirmed {
		return domain.Booking{}, carpoolrepo.ErrBookingNotFound
	}
	return b, nil
}

// cancelLocked flips one confirmed booking to cancelled. Caller holds st.mu.
func (r *Repo) cancelLocked(st *offerState, b *domain.Booking, reason domain.CancelReason, at time.Time) {
	cr := reason
	ts := at
	b.Status = domain.BookingStatusCancelled
	b.CancelReason = &cr
	b.CancelledAt = &ts
	if st.offer.ConfirmedCount > 0 {
		st.offer.ConfirmedCount--
	}
	r.confirmed.CompareAndDelete(passengerKey{outingID: st.outingID, passengerID: b.PassengerID}, b.ID)
}

func (r *Repo) state(id domain.TripOfferID) (*offerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.offers[id]
	return st, ok
}

func (r *Repo) stateForBooking(id domain.BookingID) (*offerState, bool) {
	v, ok := r.bookingOffer.Load(id)
	if !ok {
		return nil, false
	}
	return r.state(v.(domain.TripOfferID))
}

func indexOfBooking(bs []domain.Booking, id domain.BookingID) int {
	for i := range bs {
		if bs[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneOffer(o domain.TripOffer) domain.TripOffer {
	cp := o
	cp.Notes = cloneStringPtr(o.Notes)
	if o.WithdrawReason != nil {
		v := *o.WithdrawReason
		cp.WithdrawReason = &v
	}
	cp.WithdrawnAt = cloneTimePtr(o.WithdrawnAt)
	return cp
}

func cloneBooking(b domain.Booking) domain.Booking {
	cp := b
	if b.CancelReason != nil {
		v := *b.CancelReason
		cp.CancelReason = &v
	}
	cp.CancelledAt = cloneTimePtr(b.CancelledAt)
	return cp
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sortOffers(offers []domain.TripOffer) {
	// By departure time, then createdAt, then ID.
	sort.Slice(offers, func(i, j int) bool {
		a, b := offers[i], offers[j]
		if !a.DepartureTime.Equal(b.DepartureTime) {
			return a.DepartureTime.Before(b.DepartureTime)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return string(a.ID) < string(b.ID)
	})
}

func sortBookings(bs []domain.Booking) {
	// First-come order: createdAt, then ID.
	sort.SliceStable(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		return string(bs[i].ID) < string(bs[j].ID)
	})
}
