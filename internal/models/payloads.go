package models

import "time"

// Payload shapes for the builtin operation kinds. They are serialized to
// JSON into PendingOperation.Payload by the producers and decoded again by
// the dispatcher; the engine itself never looks inside.

type BookingPayload struct {
	BookingID      string    `json:"booking_id,omitempty"`
	PickupAddress  string    `json:"pickup_address"`
	DropoffAddress string    `json:"dropoff_address"`
	PickupLat      float64   `json:"pickup_lat"`
	PickupLng      float64   `json:"pickup_lng"`
	DropoffLat     float64   `json:"dropoff_lat"`
	DropoffLng     float64   `json:"dropoff_lng"`
	VehicleType    string    `json:"vehicle_type"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	Comment        string    `json:"comment,omitempty"`
}

type CancelBookingPayload struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason,omitempty"`
}

type ProfilePayload struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Language string `json:"language,omitempty"`
}

type LocationPayload struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CustomPayload lets producers queue calls the builtin kinds do not cover.
type CustomPayload struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Body     string `json:"body,omitempty"`
}
