package model

import "time"

// -------------------- CHANNEL --------------------

// Channel is the medium a code is delivered over
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// DefaultChannel applies when a request omits the channel
const DefaultChannel = ChannelEmail

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// -------------------- REQUESTS --------------------

type OTPRequest struct {
	Identifier string  `json:"identifier" validate:"required,min=3,max=254"`
	Channel    Channel `json:"channel" validate:"omitempty,oneof=email sms"`
}

type OTPVerifyRequest struct {
	Identifier string `json:"identifier" validate:"required,min=3,max=254"`
	Code       string `json:"code" validate:"required,len=6,number"`
}

// -------------------- RESPONSES --------------------

type OTPRequestResponse struct {
	Message string `json:"message"`
	Issued  bool   `json:"issued"`
	TTL     int64  `json:"ttl,omitempty"` // seconds left on the live code
}

type OTPVerifyResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// -------------------- DELIVERY EVENT --------------------

// DeliveryEvent is published for downstream senders when a code is issued
type DeliveryEvent struct {
	EventID    string    `json:"event_id"`
	Identifier string    `json:"identifier"`
	Channel    Channel   `json:"channel"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
