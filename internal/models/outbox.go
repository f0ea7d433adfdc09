package models

import (
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelSMS     Channel = "SMS"
	ChannelTropo   Channel = "TROPO"
	ChannelTwitter Channel = "TWITTER"
	ChannelXForms  Channel = "XFORMS"
	ChannelHTTP    Channel = "HTTP"
)

var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelTropo, ChannelTwitter, ChannelXForms, ChannelHTTP}

func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Channels {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

type OutboxStatus string

const (
	StatusUnsent  OutboxStatus = "Unsent"
	StatusSent    OutboxStatus = "Sent"
	StatusDraft   OutboxStatus = "Draft"   // excluded from sending by an operator
	StatusInvalid OutboxStatus = "Invalid" // terminal send failure
)

func (s OutboxStatus) Terminal() bool {
	return s == StatusSent || s == StatusInvalid
}

// OutboxEntry tracks one delivery attempt of a MessageLog to one address
// over one channel.
type OutboxEntry struct {
	ID              string       `json:"id"`
	MessageID       string       `json:"messageId"`
	RecipientID     string       `json:"recipientId,omitempty"` // directory entity, empty for raw addresses
	Channel         Channel      `json:"channel"`
	Address         string       `json:"address"`
	Status          OutboxStatus `json:"status"`
	SystemGenerated bool         `json:"systemGenerated"`
	Log             string       `json:"log,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// OutboxEvent is published whenever an entry's status or log changes.
type OutboxEvent struct {
	EntryID   string       `json:"entryId"`
	MessageID string       `json:"messageId"`
	Channel   Channel      `json:"channel"`
	Address   string       `json:"address"`
	Status    OutboxStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	At        time.Time    `json:"at"`
}
