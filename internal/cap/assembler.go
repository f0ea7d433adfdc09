package cap

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotSent = errors.New("prior alert has not been sent")

// ContentStore persists resource content and returns the URI it can be
// fetched from.
type ContentStore interface {
	Put(ctx context.Context, digest, mimeType string, content []byte) (uri string, err error)
}

type Assembler struct {
	store ContentStore
	now   func() time.Time
	newID func() string
}

func NewAssembler(store ContentStore) *Assembler {
	return &Assembler{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Assemble resolves raw into an owned document tree, validates it, stores
// resource content and seals the result. Unknown child ids are validation
// errors. Nothing is stored unless the whole document is valid.
func (a *Assembler) Assemble(ctx context.Context, raw RawAlert) (*Alert, error) {
	alert := &Alert{
		Identifier:  raw.Identifier,
		Sender:      raw.Sender,
		Status:      Status(raw.Status),
		MsgType:     MsgType(raw.MsgType),
		Source:      raw.Source,
		Scope:       Scope(raw.Scope),
		Restriction: raw.Restriction,
		Addresses:   append([]string(nil), raw.Addresses...),
		Codes:       append([]KeyValue(nil), raw.Codes...),
		Note:        raw.Note,
		References:  append([]Reference(nil), raw.References...),
		Incidents:   append([]string(nil), raw.Incidents...),
	}

	var dangling []FieldError
	contents := make(map[[2]int][]byte)

	for i, infoID := range raw.InfoIDs {
		ri, ok := raw.Infos[infoID]
		if !ok {
			dangling = append(dangling, FieldError{
				Field:  fmt.Sprintf("info[%d]", i),
				Reason: fmt.Sprintf("unknown info id %q", infoID),
			})
			continue
		}
		info := Info{
			Language:    ri.Language,
			Event:       ri.Event,
			Urgency:     Urgency(ri.Urgency),
			Severity:    Severity(ri.Severity),
			Certainty:   Certainty(ri.Certainty),
			Audience:    ri.Audience,
			EventCodes:  append([]KeyValue(nil), ri.EventCodes...),
			Effective:   ri.Effective,
			Onset:       ri.Onset,
			Expires:     ri.Expires,
			SenderName:  ri.SenderName,
			Headline:    ri.Headline,
			Description: ri.Description,
			Instruction: ri.Instruction,
			Web:         ri.Web,
			Contact:     ri.Contact,
			Parameters:  append([]KeyValue(nil), ri.Parameters...),
		}
		for _, c := range ri.Categories {
			info.Categories = append(info.Categories, Category(c))
		}
		for _, rt := range ri.ResponseTypes {
			info.ResponseTypes = append(info.ResponseTypes, ResponseType(rt))
		}
		infoIdx := len(alert.Infos)
		for j, resID := range ri.ResourceIDs {
			rr, ok := raw.Resources[resID]
			if !ok {
				dangling = append(dangling, FieldError{
					Field:  fmt.Sprintf("info[%d].resource[%d]", i, j),
					Reason: fmt.Sprintf("unknown resource id %q", resID),
				})
				continue
			}
			contents[[2]int{infoIdx, len(info.Resources)}] = rr.Content
			info.Resources = append(info.Resources, Resource{
				Description:   rr.Description,
				MimeType:      rr.MimeType,
				EmbedAsBase64: rr.EmbedAsBase64,
			})
		}
		for j, areaID := range ri.AreaIDs {
			ra, ok := raw.Areas[areaID]
			if !ok {
				dangling = append(dangling, FieldError{
					Field:  fmt.Sprintf("info[%d].area[%d]", i, j),
					Reason: fmt.Sprintf("unknown area id %q", areaID),
				})
				continue
			}
			info.Areas = append(info.Areas, Area{
				Description: ra.Description,
				Polygons:    append([]string(nil), ra.Polygons...),
				Circles:     append([]string(nil), ra.Circles...),
				Geocodes:    append([]KeyValue(nil), ra.Geocodes...),
				Altitude:    ra.Altitude,
				Ceiling:     ra.Ceiling,
			})
		}
		alert.Infos = append(alert.Infos, info)
	}

	// Check against the send time Seal will assign, so expires is compared
	// with the defaulted effective before any resource is stored.
	now := a.now()
	if err := validateAt(alert, now.Truncate(time.Second)); err != nil || len(dangling) > 0 {
		ve := &ValidationError{Fields: dangling}
		if err != nil {
			inner, ok := AsValidationError(err)
			if !ok {
				return nil, err
			}
			ve.Fields = append(ve.Fields, inner.Fields...)
		}
		return nil, ve
	}

	for key, content := range contents {
		res := &alert.Infos[key[0]].Resources[key[1]]
		if err := a.storeResource(ctx, res, content); err != nil {
			return nil, err
		}
	}

	if err := Seal(alert, now); err != nil {
		return nil, err
	}
	return alert, nil
}

// storeResource computes the derived resource fields from content.
func (a *Assembler) storeResource(ctx context.Context, res *Resource, content []byte) error {
	if len(content) == 0 {
		return nil
	}
	sum := sha1.Sum(content)
	res.digest = hex.EncodeToString(sum[:])
	res.size = int64(len(content))
	if res.EmbedAsBase64 {
		res.deref = base64.StdEncoding.EncodeToString(content)
	}
	if a.store == nil {
		return nil
	}
	uri, err := a.store.Put(ctx, res.digest, res.MimeType, content)
	if err != nil {
		return fmt.Errorf("error storing resource %q: %w", res.Description, err)
	}
	res.uri = uri
	return nil
}

// Derive builds a new alert of msgType that supersedes prior. The new alert
// gets its own identifier (generated when empty) and send time and
// references prior; prior itself is left untouched.
func (a *Assembler) Derive(prior *Alert, msgType MsgType, identifier string) (*Alert, error) {
	if !prior.Sealed() {
		return nil, ErrNotSent
	}
	if msgType == MsgTypeAlert || !msgType.Valid() {
		return nil, &ValidationError{Fields: []FieldError{
			{Field: "msgType", Reason: fmt.Sprintf("cannot derive a %q message", msgType)},
		}}
	}
	if identifier == "" {
		identifier = a.newID()
	}
	if identifier == prior.Identifier {
		return nil, &ValidationError{Fields: []FieldError{
			{Field: "identifier", Reason: "derived alert needs a fresh identifier"},
		}}
	}

	next := prior.Clone()
	next.Identifier = identifier
	next.MsgType = msgType
	next.References = []Reference{prior.Reference()}
	next.sent = time.Time{}
	next.sealedID, next.sealedSender = "", ""

	now := a.now().Truncate(time.Second)
	if !now.After(prior.sent) {
		now = prior.sent.Add(time.Second)
	}
	for i := range next.Infos {
		info := &next.Infos[i]
		// Effective defaulted from prior's send time follows the new one,
		// unless the info has already expired by then: cancelling or
		// updating an expired alert keeps its original window.
		if info.Effective.Equal(prior.sent) && (info.Expires.IsZero() || info.Expires.After(now)) {
			info.Effective = time.Time{}
		}
	}
	if err := Seal(next, now); err != nil {
		return nil, err
	}
	return next, nil
}
