package service

import (
	"context"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	CompletionTriggerTimer       = "timer"
	CompletionTriggerSweep       = "sweep"
	CompletionTriggerParticipant = "participant"

	timerCompletionTimeout = 10 * time.Second
)

// AcceptMeeting confirms a paid booking for its professional. The
// professional row stays locked while the load is counted, so concurrent
// accepts for the same professional are decided one at a time.
func (s *BookingService) AcceptMeeting(ctx context.Context, bookingID, professionalUserID uint64) (*entity.Booking, error) {
	ctx, span := tracer.Start(ctx, "BookingService.AcceptMeeting")
	defer span.End()
	span.SetAttributes(attribute.Int64("booking.id", int64(bookingID)))

	var booking *entity.Booking
	err := s.store.WithinTx(ctx, func(tx Repositories) error {
		var err error
		booking, err = tx.Bookings.FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrBookingNotFound
		}
		if booking.ProfessionalUserID != professionalUserID {
			return ErrForbidden
		}
		if booking.Status != entity.BookingStatusWaitingForProfessional || booking.MeetingStatus != entity.MeetingStatusWaiting {
			return ErrInvalidState
		}

		professional, err := tx.Professionals.FindByIDForUpdate(ctx, booking.ProfessionalID)
		if err != nil {
			return err
		}
		if professional == nil {
			return ErrProfessionalNotFound
		}

		load, err := tx.Bookings.CountMeetingLoad(ctx, professional.ID, booking.ID)
		if err != nil {
			return err
		}
		if load.AtCapacity() {
			return ErrCapacityExceeded
		}

		now := s.now().UTC()
		booking.SetStatus(entity.BookingStatusConfirmed)
		booking.MeetingAcceptedAt = &now
		booking.UpdatedAt = now
		if err := tx.Bookings.Update(ctx, booking); err != nil {
			return err
		}

		return enqueueEvent(ctx, tx.Outbox, entity.AggregateBooking, booking.ID, entity.EventBookingConfirmed, &entity.BookingConfirmedEvent{
			BookingID:        booking.ID,
			ClientID:         booking.ClientID,
			ProfessionalName: professional.Name,
			MeetingRoomToken: booking.MeetingRoomToken,
		}, now)
	})
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			s.metrics.CapacityRejected()
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.BookingTransition(string(booking.Status))
	return booking, nil
}

// CanJoin returns the booking when the caller is a participant and the
// meeting is confirmed or running.
func (s *BookingService) CanJoin(ctx context.Context, bookingID, userID uint64) (*entity.Booking, error) {
	booking, err := s.store.Repos().Bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}
	if !booking.IsParty(userID) {
		return nil, ErrForbidden
	}
	if booking.Status != entity.BookingStatusConfirmed && booking.Status != entity.BookingStatusInProgress {
		return nil, ErrInvalidState
	}
	return booking, nil
}

func (s *BookingService) StartMeeting(ctx context.Context, bookingID, userID uint64) (*entity.Booking, error) {
	var booking *entity.Booking
	err := s.store.WithinTx(ctx, func(tx Repositories) error {
		var err error
		booking, err = tx.Bookings.FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking == nil {
			return ErrBookingNotFound
		}
		if !booking.IsParty(userID) {
			return ErrForbidden
		}
		if booking.Status != entity.BookingStatusConfirmed {
			return ErrInvalidState
		}

		now := s.now().UTC()
		end := now.Add(s.bookingsCfg.MeetingLength)
		booking.SetStatus(entity.BookingStatusInProgress)
		booking.MeetingStartTime = &now
		booking.MeetingEndTime = &end
		booking.UpdatedAt = now
		return tx.Bookings.Update(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.BookingTransition(string(booking.Status))
	s.scheduleCompletion(booking.ID, *booking.MeetingEndTime)
	return booking, nil
}

// EndMeeting lets a participant finish a running meeting before its deadline.
func (s *BookingService) EndMeeting(ctx context.Context, bookingID, userID uint64) (*entity.Booking, error) {
	booking, err := s.store.Repos().Bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}
	if !booking.IsParty(userID) {
		return nil, ErrForbidden
	}

	completed, err := s.CompleteMeeting(ctx, bookingID, CompletionTriggerParticipant)
	if err != nil {
		return nil, err
	}
	if !completed {
		return nil, ErrInvalidState
	}
	return s.store.Repos().Bookings.FindByID(ctx, bookingID)
}

// CompleteMeeting finishes the meeting if it is still running. It reports
// whether this call made the transition; a second call is a no-op.
func (s *BookingService) CompleteMeeting(ctx context.Context, bookingID uint64, trigger string) (bool, error) {
	completed, err := s.store.Repos().Bookings.CompleteIfActive(ctx, bookingID, s.now().UTC())
	if err != nil {
		return false, err
	}

	s.timers.Cancel(bookingID)
	if completed {
		s.metrics.BookingTransition(string(entity.BookingStatusCompleted))
		s.metrics.MeetingCompleted(trigger)
		s.logger.WithField("booking_id", bookingID).WithField("trigger", trigger).Info("meeting_completed")
	}
	return completed, nil
}

func (s *BookingService) GetActiveLoad(ctx context.Context, professionalID uint64) (entity.MeetingLoad, error) {
	repos := s.store.Repos()
	professional, err := repos.Professionals.FindByID(ctx, professionalID)
	if err != nil {
		return entity.MeetingLoad{}, err
	}
	if professional == nil {
		return entity.MeetingLoad{}, ErrProfessionalNotFound
	}
	return repos.Bookings.CountMeetingLoad(ctx, professionalID, 0)
}

// RunMeetingSweepBatch completes running meetings whose deadline has passed.
func (s *BookingService) RunMeetingSweepBatch(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "BookingService.RunMeetingSweepBatch")
	defer span.End()

	items, err := s.store.Repos().Bookings.ListActiveEndingBefore(ctx, s.now().UTC(), s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, booking := range items {
		if booking == nil {
			continue
		}
		if _, err := s.CompleteMeeting(ctx, booking.ID, CompletionTriggerSweep); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	span.SetAttributes(attribute.Int("meetings.expired", len(items)))
	return firstErr
}

// RestoreMeetingTimers re-arms completion timers for meetings that were
// running when the process started. Meetings already past their deadline
// fire immediately.
func (s *BookingService) RestoreMeetingTimers(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(s.bookingsCfg.MeetingLength)
	items, err := s.store.Repos().Bookings.ListActiveEndingBefore(ctx, cutoff, s.batchSize())
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, booking := range items {
		if booking == nil || booking.MeetingEndTime == nil {
			continue
		}
		s.scheduleCompletion(booking.ID, *booking.MeetingEndTime)
		restored++
	}
	return restored, nil
}

func (s *BookingService) scheduleCompletion(bookingID uint64, at time.Time) {
	s.timers.Schedule(bookingID, at, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerCompletionTimeout)
		defer cancel()

		if _, err := s.CompleteMeeting(ctx, bookingID, CompletionTriggerTimer); err != nil {
			s.logger.WithError(err).WithField("booking_id", bookingID).Warn("meeting_timer_completion_failed")
		}
	})
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
