package entity

import "time"

type BookingStatus string

const (
	BookingStatusPendingPayment         BookingStatus = "PENDING_PAYMENT"
	BookingStatusWaitingForProfessional BookingStatus = "WAITING_FOR_PROFESSIONAL"
	BookingStatusConfirmed              BookingStatus = "CONFIRMED"
	BookingStatusInProgress             BookingStatus = "IN_PROGRESS"
	BookingStatusCompleted              BookingStatus = "COMPLETED"
	BookingStatusCancelled              BookingStatus = "CANCELLED"
)

type MeetingStatus string

const (
	MeetingStatusPending   MeetingStatus = "PENDING"
	MeetingStatusWaiting   MeetingStatus = "WAITING"
	MeetingStatusActive    MeetingStatus = "ACTIVE"
	MeetingStatusCompleted MeetingStatus = "COMPLETED"
	MeetingStatusCancelled MeetingStatus = "CANCELLED"
)

// meetingStatusFor is the only place a booking status is paired with its
// meeting status. Every transition goes through SetStatus.
var meetingStatusFor = map[BookingStatus]MeetingStatus{
	BookingStatusPendingPayment:         MeetingStatusPending,
	BookingStatusWaitingForProfessional: MeetingStatusWaiting,
	BookingStatusConfirmed:              MeetingStatusWaiting,
	BookingStatusInProgress:             MeetingStatusActive,
	BookingStatusCompleted:              MeetingStatusCompleted,
	BookingStatusCancelled:              MeetingStatusCancelled,
}

type Booking struct {
	ID uint64

	ClientID           uint64
	ProfessionalID     uint64
	ProfessionalUserID uint64

	ScheduledAt     time.Time
	DurationMinutes int32

	PriceCents int64
	Currency   string

	Status        BookingStatus
	MeetingStatus MeetingStatus

	MeetingRoomToken  string
	MeetingAcceptedAt *time.Time
	MeetingStartTime  *time.Time
	MeetingEndTime    *time.Time

	PaymentID *uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Booking) SetStatus(status BookingStatus) {
	b.Status = status
	b.MeetingStatus = meetingStatusFor[status]
}

// StateConsistent reports whether the status pair is one of the legal
// combinations.
func (b *Booking) StateConsistent() bool {
	expected, ok := meetingStatusFor[b.Status]
	return ok && expected == b.MeetingStatus
}

func (b *Booking) IsParty(userID uint64) bool {
	return userID != 0 && (userID == b.ClientID || userID == b.ProfessionalUserID)
}

func MeetingStatusFor(status BookingStatus) (MeetingStatus, bool) {
	ms, ok := meetingStatusFor[status]
	return ms, ok
}

// MeetingLoad counts a professional's meetings that are running and those
// accepted and queued behind them.
type MeetingLoad struct {
	Active  int
	Waiting int
}

func (l MeetingLoad) AtCapacity() bool {
	return l.Active >= 1 && l.Waiting >= 1
}
