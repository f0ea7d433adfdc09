package models

import "time"

type Direction string

const (
	DirectionInbound  Direction = "Inbound"
	DirectionOutbound Direction = "Outbound"
)

type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return "Unknown"
	}
}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// MessageLog is one logical inbound or outbound message. It is written once
// per message no matter how many recipients it is later dispatched to.
type MessageLog struct {
	ID                string    `json:"id"`
	AlertID           string    `json:"alertId,omitempty"` // CAP alert that produced this message, if any
	Direction         Direction `json:"direction"`
	SenderDisplayName string    `json:"senderDisplayName,omitempty"` // name used on outgoing email
	FromAddress       string    `json:"fromAddress,omitempty"`
	RecipientRaw      string    `json:"recipientRaw,omitempty"`
	Subject           string    `json:"subject,omitempty"`
	Body              string    `json:"body"`
	Priority          Priority  `json:"priority"`
	Verified          bool      `json:"verified"`
	VerifiedComment   string    `json:"verifiedComment,omitempty"`
	Actionable        bool      `json:"actionable"`
	Actioned          bool      `json:"actioned"`
	ActionedComment   string    `json:"actionedComment,omitempty"`
	IsParsed          bool      `json:"isParsed"`
	Reply             string    `json:"reply,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
