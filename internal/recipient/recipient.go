// Package recipient expands dispatch targets into concrete (address,
// channel) deliveries.
package recipient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mr1hm/go-cap-alerts/internal/models"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnknownGroup  = errors.New("unknown group")
)

type Kind string

const (
	KindEntity  Kind = "entity"
	KindGroup   Kind = "group"
	KindAddress Kind = "address"
)

type Target struct {
	Kind    Kind           `json:"kind"`
	ID      string         `json:"id,omitempty"`
	Address string         `json:"address,omitempty"`
	Channel models.Channel `json:"channel,omitempty"`
}

func Entity(id string) Target { return Target{Kind: KindEntity, ID: id} }
func Group(id string) Target  { return Target{Kind: KindGroup, ID: id} }

// Address targets a raw address, bypassing directory lookup. channel may be
// empty, in which case the requested channel applies.
func Address(addr string, channel models.Channel) Target {
	return Target{Kind: KindAddress, Address: addr, Channel: channel}
}

func (t Target) String() string {
	switch t.Kind {
	case KindAddress:
		if t.Channel != "" {
			return fmt.Sprintf("%s:%s", strings.ToLower(string(t.Channel)), t.Address)
		}
		return t.Address
	default:
		return fmt.Sprintf("%s:%s", t.Kind, t.ID)
	}
}

// ParseTarget reads the short form used on the command line:
// "entity:<id>", "group:<id>", "<channel>:<address>" or a bare address.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, errors.New("empty target")
	}
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Address(s, ""), nil
	}
	switch Kind(strings.ToLower(prefix)) {
	case KindEntity, "person":
		return Entity(rest), nil
	case KindGroup:
		return Group(rest), nil
	}
	if ch, err := models.ParseChannel(prefix); err == nil {
		return Address(rest, ch), nil
	}
	// e.g. "mailto:" or "tel:" style values are addresses in their own right
	return Address(s, ""), nil
}

// Delivery is one concrete (address, channel) pair. RecipientID is the
// directory entity it came from, empty for raw addresses.
type Delivery struct {
	Address     string         `json:"address"`
	Channel     models.Channel `json:"channel"`
	RecipientID string         `json:"recipientId,omitempty"`
}

// ResolutionError reports a target that produced no delivery. Resolution of
// the remaining targets continues.
type ResolutionError struct {
	Target  Target
	Channel models.Channel
	Reason  string
	Err     error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %s", e.Target)
	if e.Channel != "" {
		msg += " on " + string(e.Channel)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Directory is the external store of people and groups.
type Directory interface {
	LookupAddress(ctx context.Context, entityID string, channel models.Channel) (string, bool, error)
	PreferredChannel(ctx context.Context, entityID string) (models.Channel, error)
	// ExpandGroup returns the group's members in stored order. Members may
	// be entities or other groups.
	ExpandGroup(ctx context.Context, groupID string) ([]Target, error)
}
