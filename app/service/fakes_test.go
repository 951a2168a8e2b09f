package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-consultations/app/commission"
	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"github.com/vibast-solutions/ms-go-consultations/app/gateway"
	"github.com/vibast-solutions/ms-go-consultations/app/repository"
	"github.com/vibast-solutions/ms-go-consultations/config"
)

// memData is the whole fake database. Transactions snapshot it and restore
// the snapshot on rollback.
type memData struct {
	bookings      map[uint64]entity.Booking
	payments      map[uint64]entity.Payment
	events        []entity.PaymentEvent
	professionals map[uint64]entity.Professional
	rules         []entity.CommissionRule
	outbox        []entity.OutboxMessage
	nextID        uint64
}

func (d *memData) clone() *memData {
	c := &memData{
		bookings:      make(map[uint64]entity.Booking, len(d.bookings)),
		payments:      make(map[uint64]entity.Payment, len(d.payments)),
		events:        append([]entity.PaymentEvent(nil), d.events...),
		professionals: make(map[uint64]entity.Professional, len(d.professionals)),
		rules:         append([]entity.CommissionRule(nil), d.rules...),
		outbox:        append([]entity.OutboxMessage(nil), d.outbox...),
		nextID:        d.nextID,
	}
	for k, v := range d.bookings {
		c.bookings[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.professionals {
		c.professionals[k] = v
	}
	return c
}

type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *memData

	failEventCreate error
	// applyConflict makes APPLIED inserts collide as if another delivery
	// committed the same key first.
	applyConflict bool
}

func newMemStore() *memStore {
	return &memStore{data: &memData{
		bookings:      map[uint64]entity.Booking{},
		payments:      map[uint64]entity.Payment{},
		professionals: map[uint64]entity.Professional{},
		nextID:        1,
	}}
}

func (s *memStore) Repos() Repositories {
	return Repositories{
		Bookings:        memBookings{s},
		Payments:        memPayments{s},
		PaymentEvents:   memEvents{s},
		Professionals:   memProfessionals{s},
		CommissionRules: memRules{s},
		Outbox:          memOutbox{s},
	}
}

// WithinTx runs transactions one at a time, which stands in for the row
// locks the real store takes.
func (s *memStore) WithinTx(ctx context.Context, fn func(Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s.Repos()); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) id() uint64 {
	id := s.data.nextID
	s.data.nextID++
	return id
}

func (s *memStore) addProfessional(p entity.Professional) *entity.Professional {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.data.professionals[p.ID] = p
	return &p
}

func (s *memStore) putBooking(b entity.Booking) *entity.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.id()
	}
	s.data.bookings[b.ID] = b
	return &b
}

func (s *memStore) putPayment(p entity.Payment) *entity.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.data.payments[p.ID] = p
	return &p
}

func (s *memStore) booking(id uint64) entity.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.bookings[id]
}

func (s *memStore) payment(id uint64) entity.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.payments[id]
}

func (s *memStore) eventsList() []entity.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.PaymentEvent(nil), s.data.events...)
}

func (s *memStore) outboxList() []entity.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.OutboxMessage(nil), s.data.outbox...)
}

type memBookings struct{ s *memStore }

func (r memBookings) Create(_ context.Context, b *entity.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.bookings {
		if existing.MeetingRoomToken == b.MeetingRoomToken {
			return repository.ErrMeetingRoomTokenTaken
		}
	}
	b.ID = r.s.id()
	r.s.data.bookings[b.ID] = *b
	return nil
}

func (r memBookings) Update(_ context.Context, b *entity.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.bookings[b.ID] = *b
	return nil
}

func (r memBookings) FindByID(_ context.Context, id uint64) (*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r memBookings) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Booking, error) {
	return r.FindByID(ctx, id)
}

func (r memBookings) CountMeetingLoad(_ context.Context, professionalID, excludeID uint64) (entity.MeetingLoad, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var load entity.MeetingLoad
	for _, b := range r.s.data.bookings {
		if b.ProfessionalID != professionalID || b.ID == excludeID {
			continue
		}
		switch {
		case b.MeetingStatus == entity.MeetingStatusActive:
			load.Active++
		case b.MeetingStatus == entity.MeetingStatusWaiting && b.Status == entity.BookingStatusConfirmed:
			load.Waiting++
		}
	}
	return load, nil
}

func (r memBookings) CompleteIfActive(_ context.Context, id uint64, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.bookings[id]
	if !ok || b.MeetingStatus != entity.MeetingStatusActive {
		return false, nil
	}
	b.SetStatus(entity.BookingStatusCompleted)
	b.UpdatedAt = now
	r.s.data.bookings[id] = b
	return true, nil
}

func (r memBookings) ListActiveEndingBefore(_ context.Context, cutoff time.Time, limit int32) ([]*entity.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]*entity.Booking, 0)
	for _, b := range r.s.data.bookings {
		if b.MeetingStatus == entity.MeetingStatusActive && b.MeetingEndTime != nil && !b.MeetingEndTime.After(cutoff) {
			item := b
			items = append(items, &item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].MeetingEndTime.Before(*items[j].MeetingEndTime) })
	if limit > 0 && len(items) > int(limit) {
		items = items[:limit]
	}
	return items, nil
}

type memPayments struct{ s *memStore }

func (r memPayments) Create(_ context.Context, p *entity.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = r.s.id()
	r.s.data.payments[p.ID] = *p
	return nil
}

func (r memPayments) Update(_ context.Context, p *entity.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.payments[p.ID] = *p
	return nil
}

func (r memPayments) FindByID(_ context.Context, id uint64) (*entity.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memPayments) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Payment, error) {
	return r.FindByID(ctx, id)
}

func (r memPayments) FindLatestByBookingID(_ context.Context, bookingID uint64) (*entity.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *entity.Payment
	for _, p := range r.s.data.payments {
		if p.BookingID != bookingID {
			continue
		}
		if latest == nil || p.ID > latest.ID {
			item := p
			latest = &item
		}
	}
	return latest, nil
}

func (r memPayments) ListStalePending(_ context.Context, before time.Time, limit int32) ([]*entity.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]*entity.Payment, 0)
	for _, p := range r.s.data.payments {
		if p.Status == entity.PaymentStatusPending && !p.CreatedAt.After(before) {
			item := p
			items = append(items, &item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if limit > 0 && len(items) > int(limit) {
		items = items[:limit]
	}
	return items, nil
}

func (r memPayments) SumCompletedFees(_ context.Context, start, end *time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total int64
	for _, p := range r.s.data.payments {
		if p.Status != entity.PaymentStatusCompleted || p.PaidAt == nil {
			continue
		}
		if start != nil && p.PaidAt.Before(*start) {
			continue
		}
		if end != nil && p.PaidAt.After(*end) {
			continue
		}
		total += p.FeeCents
	}
	return total, nil
}

type memEvents struct{ s *memStore }

func (r memEvents) Create(_ context.Context, e *entity.PaymentEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failEventCreate != nil {
		return r.s.failEventCreate
	}
	if r.s.applyConflict && e.Outcome == entity.PaymentEventApplied {
		return repository.ErrEventAlreadyApplied
	}
	if e.Outcome == entity.PaymentEventApplied {
		for _, existing := range r.s.data.events {
			if existing.Outcome == entity.PaymentEventApplied && existing.IdempotencyKey == e.IdempotencyKey {
				return repository.ErrEventAlreadyApplied
			}
		}
	}
	e.ID = r.s.id()
	r.s.data.events = append(r.s.data.events, *e)
	return nil
}

func (r memEvents) FindAppliedByKey(_ context.Context, key string) (*entity.PaymentEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.data.events {
		if e.Outcome == entity.PaymentEventApplied && e.IdempotencyKey == key {
			item := e
			return &item, nil
		}
	}
	return nil, nil
}

type memProfessionals struct{ s *memStore }

func (r memProfessionals) FindByID(_ context.Context, id uint64) (*entity.Professional, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.professionals[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memProfessionals) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Professional, error) {
	return r.FindByID(ctx, id)
}

type memRules struct{ s *memStore }

func (r memRules) FindActive(context.Context) (*entity.CommissionRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rule := range r.s.data.rules {
		if rule.IsActive {
			item := rule
			return &item, nil
		}
	}
	return nil, nil
}

type memOutbox struct{ s *memStore }

func (r memOutbox) Create(_ context.Context, msg *entity.OutboxMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.outbox = append(r.s.data.outbox, *msg)
	return nil
}

func (r memOutbox) ListUnpublishedForUpdate(_ context.Context, limit int32, maxAttempts int32) ([]*entity.OutboxMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]*entity.OutboxMessage, 0)
	for _, msg := range r.s.data.outbox {
		if msg.PublishedAt == nil && msg.Attempts < maxAttempts {
			item := msg
			items = append(items, &item)
		}
		if limit > 0 && len(items) == int(limit) {
			break
		}
	}
	return items, nil
}

func (r memOutbox) MarkPublished(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.data.outbox {
		if r.s.data.outbox[i].ID == id {
			published := at
			r.s.data.outbox[i].PublishedAt = &published
			r.s.data.outbox[i].Attempts++
		}
	}
	return nil
}

func (r memOutbox) MarkFailed(_ context.Context, id string, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.data.outbox {
		if r.s.data.outbox[i].ID == id {
			msg := reason
			r.s.data.outbox[i].LastError = &msg
			r.s.data.outbox[i].Attempts++
		}
	}
	return nil
}

// fakeGateway serves canned gateway records and counts calls.
type fakeGateway struct {
	mu sync.Mutex

	signatureOK bool
	checkout    *gateway.Checkout
	checkoutErr error
	payments    map[string]*gateway.PaymentRecord
	paymentErr  error
	orders      map[string]*gateway.MerchantOrderRecord
	prefs       map[string]*gateway.PreferenceRecord
	search      map[string][]*gateway.PaymentRecord

	checkoutCalls int
	lastCheckout  *gateway.CheckoutInput
	fetchCalls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		signatureOK: true,
		checkout:    &gateway.Checkout{CheckoutID: "pref-1", CheckoutURL: "https://pay.example/pref-1", SandboxURL: "https://sandbox.pay.example/pref-1"},
		payments:    map[string]*gateway.PaymentRecord{},
		orders:      map[string]*gateway.MerchantOrderRecord{},
		prefs:       map[string]*gateway.PreferenceRecord{},
		search:      map[string][]*gateway.PaymentRecord{},
	}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateCheckout(_ context.Context, input *gateway.CheckoutInput) (*gateway.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkoutCalls++
	g.lastCheckout = input
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	out := *g.checkout
	return &out, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*gateway.PaymentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.paymentErr != nil {
		return nil, g.paymentErr
	}
	record, ok := g.payments[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return record, nil
}

func (g *fakeGateway) FetchMerchantOrder(_ context.Context, id string) (*gateway.MerchantOrderRecord, error) {
	record, ok := g.orders[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return record, nil
}

func (g *fakeGateway) FetchPreference(_ context.Context, id string) (*gateway.PreferenceRecord, error) {
	record, ok := g.prefs[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return record, nil
}

func (g *fakeGateway) SearchPaymentsByExternalReference(_ context.Context, reference string) ([]*gateway.PaymentRecord, error) {
	if g.paymentErr != nil {
		return nil, g.paymentErr
	}
	return g.search[reference], nil
}

func (g *fakeGateway) VerifySignature([]byte, string) bool {
	return g.signatureOK
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store    *memStore
	gateway  *fakeGateway
	clock    *testClock
	bookings *BookingService
	recon    *ReconciliationService
}

func newTestEnv() *testEnv {
	store := newMemStore()
	gw := newFakeGateway()
	clock := newTestClock()
	registry := gateway.NewRegistry(gw)
	engine, _ := commission.NewEngine(decimal.NewFromInt(10))

	bookingsCfg := config.BookingsConfig{
		MeetingLength:       18 * time.Minute,
		IdempotencyBucket:   24 * time.Hour,
		ReconcileStaleAfter: 15 * time.Minute,
		JobBatchSize:        100,
	}
	gatewayCfg := config.GatewayConfig{SuccessURL: "https://app.example.com/ok", AutoReturn: true}

	bookings := NewBookingService(store, registry, bookingsCfg, gatewayCfg, nil, nil)
	bookings.now = clock.Now
	recon := NewReconciliationService(store, registry, bookings, engine, bookingsCfg, nil)
	recon.now = clock.Now

	return &testEnv{store: store, gateway: gw, clock: clock, bookings: bookings, recon: recon}
}

type bookingRequest struct {
	professionalID uint64
	scheduledAt    time.Time
	duration       int32
}

func (r bookingRequest) GetProfessionalId() uint64 { return r.professionalID }
func (r bookingRequest) GetScheduledAt() time.Time { return r.scheduledAt }
func (r bookingRequest) GetDurationMinutes() int32 { return r.duration }

type notificationRequest struct {
	gateway   string
	kind      string
	dataID    string
	signature string
	payload   []byte
}

func (r notificationRequest) GetGateway() string   { return r.gateway }
func (r notificationRequest) GetType() string      { return r.kind }
func (r notificationRequest) GetDataId() string    { return r.dataID }
func (r notificationRequest) GetSignature() string { return r.signature }
func (r notificationRequest) GetPayload() []byte   { return r.payload }

func paymentNotification(id string) notificationRequest {
	return notificationRequest{
		kind:      entity.NotificationTypePayment,
		dataID:    id,
		signature: "ts=1,v1=abc",
		payload:   []byte(`{"type":"payment","data":{"id":"` + id + `"}}`),
	}
}
