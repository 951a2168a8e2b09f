package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-consultations/app/entity"
	"github.com/vibast-solutions/ms-go-consultations/app/types"
)

func BookingToResponse(item *entity.Booking) *types.Booking {
	if item == nil {
		return nil
	}

	return &types.Booking{
		Id:                item.ID,
		ClientId:          item.ClientID,
		ProfessionalId:    item.ProfessionalID,
		ScheduledAt:       formatTime(item.ScheduledAt),
		DurationMinutes:   item.DurationMinutes,
		PriceCents:        item.PriceCents,
		Currency:          item.Currency,
		Status:            string(item.Status),
		MeetingStatus:     string(item.MeetingStatus),
		MeetingAcceptedAt: formatTimePtr(item.MeetingAcceptedAt),
		MeetingStartTime:  formatTimePtr(item.MeetingStartTime),
		MeetingEndTime:    formatTimePtr(item.MeetingEndTime),
		PaymentId:         derefUint64(item.PaymentID),
		CreatedAt:         formatTime(item.CreatedAt),
		UpdatedAt:         formatTime(item.UpdatedAt),
	}
}

func PaymentToResponse(item *entity.Payment) *types.Payment {
	if item == nil {
		return nil
	}

	return &types.Payment{
		Id:               item.ID,
		BookingId:        item.BookingID,
		AmountCents:      item.AmountCents,
		Currency:         item.Currency,
		Status:           string(item.Status),
		PlatformFeeCents: item.PlatformFeeCents,
		NetAmountCents:   item.NetAmountCents,
		GatewayFeesCents: item.GatewayFeesCents,
		CheckoutId:       item.PreferenceID,
		CheckoutUrl:      derefString(item.CheckoutURL),
		SandboxUrl:       derefString(item.SandboxURL),
		PaidAt:           formatTimePtr(item.PaidAt),
		CreatedAt:        formatTime(item.CreatedAt),
		UpdatedAt:        formatTime(item.UpdatedAt),
	}
}

func JoinToResponse(item *entity.Booking) *types.JoinMeetingResponse {
	if item == nil {
		return nil
	}

	return &types.JoinMeetingResponse{
		BookingId:        item.ID,
		MeetingRoomToken: item.MeetingRoomToken,
		MeetingStatus:    string(item.MeetingStatus),
		MeetingEndTime:   formatTimePtr(item.MeetingEndTime),
	}
}

func LoadToResponse(professionalID uint64, load entity.MeetingLoad) *types.ProfessionalLoadResponse {
	return &types.ProfessionalLoadResponse{
		ProfessionalId: professionalID,
		Active:         load.Active,
		Waiting:        load.Waiting,
		AtCapacity:     load.AtCapacity(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
