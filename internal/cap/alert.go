// Package cap models Common Alerting Protocol 1.2 alert documents: the
// alert → info → resource/area tree, its validation rules, the XML wire
// format and assembly from flat input.
package cap

import (
	"fmt"
	"strings"
	"time"
)

const DefaultLanguage = "en-US"

// KeyValue is one entry of a CAP multi-valued pair field (eventCode,
// parameter, geocode, code).
type KeyValue struct {
	Key   string `json:"key" cap:"valueName"`
	Value string `json:"value" cap:"value" validate:"required"`
}

// Reference identifies an earlier alert as a sender,identifier,sent triple.
type Reference struct {
	Sender     string    `json:"sender"`
	Identifier string    `json:"identifier"`
	Sent       time.Time `json:"sent"`
}

func (r Reference) String() string {
	return r.Sender + "," + r.Identifier + "," + FormatTime(r.Sent)
}

func ParseReference(s string) (Reference, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Reference{}, fmt.Errorf("reference %q: want sender,identifier,sent", s)
	}
	sent, err := ParseTime(parts[2])
	if err != nil {
		return Reference{}, fmt.Errorf("reference %q: %w", s, err)
	}
	return Reference{Sender: parts[0], Identifier: parts[1], Sent: sent}, nil
}

type Alert struct {
	Identifier  string      `cap:"identifier" validate:"required,capid"`
	Sender      string      `cap:"sender" validate:"required,capid"`
	Status      Status      `cap:"status" validate:"required,enum"`
	MsgType     MsgType     `cap:"msgType" validate:"required,enum"`
	Source      string      `cap:"source"`
	Scope       Scope       `cap:"scope" validate:"required,enum"`
	Restriction string      `cap:"restriction"`
	Addresses   []string    `cap:"addresses"`
	Codes       []KeyValue  `cap:"code" validate:"dive"`
	Note        string      `cap:"note"`
	References  []Reference `cap:"references"`
	Incidents   []string    `cap:"incidents"`
	Infos       []Info      `cap:"info" validate:"dive"`

	// Maintained by Seal; never read from caller input.
	sent         time.Time
	sealedID     string
	sealedSender string
}

// Sent is the system-assigned send time. It is zero until the alert has been
// sealed.
func (a *Alert) Sent() time.Time {
	return a.sent
}

func (a *Alert) Sealed() bool {
	return !a.sent.IsZero()
}

// Reference returns the triple other alerts use to point at this one.
func (a *Alert) Reference() Reference {
	return Reference{Sender: a.Sender, Identifier: a.Identifier, Sent: a.sent}
}

type Info struct {
	Language      string         `cap:"language"`
	Categories    []Category     `cap:"category" validate:"min=1,dive,enum"`
	Event         string         `cap:"event" validate:"required"`
	ResponseTypes []ResponseType `cap:"responseType" validate:"dive,enum"`
	Urgency       Urgency        `cap:"urgency" validate:"required,enum"`
	Severity      Severity       `cap:"severity" validate:"required,enum"`
	Certainty     Certainty      `cap:"certainty" validate:"required,enum"`
	Audience      string         `cap:"audience"`
	EventCodes    []KeyValue     `cap:"eventCode" validate:"dive"`
	Effective     time.Time      `cap:"effective"`
	Onset         time.Time      `cap:"onset"`
	Expires       time.Time      `cap:"expires"`
	SenderName    string         `cap:"senderName"`
	Headline      string         `cap:"headline"`
	Description   string         `cap:"description"`
	Instruction   string         `cap:"instruction"`
	Web           string         `cap:"web" validate:"omitempty,url"`
	Contact       string         `cap:"contact"`
	Parameters    []KeyValue     `cap:"parameter" validate:"dive"`
	Resources     []Resource     `cap:"resource" validate:"dive"`
	Areas         []Area         `cap:"area" validate:"dive"`
}

type Resource struct {
	Description   string `cap:"resourceDesc" validate:"required"`
	MimeType      string `cap:"mimeType" validate:"required"`
	EmbedAsBase64 bool   `cap:"derefUri"`

	size   int64
	uri    string
	digest string
	deref  string
}

func (r *Resource) Size() int64    { return r.size }
func (r *Resource) URI() string    { return r.uri }
func (r *Resource) Digest() string { return r.digest }

type Area struct {
	Description string     `cap:"areaDesc" validate:"required"`
	Polygons    []string   `cap:"polygon"`
	Circles     []string   `cap:"circle"`
	Geocodes    []KeyValue `cap:"geocode" validate:"dive"`
	Altitude    *float64   `cap:"altitude"`
	Ceiling     *float64   `cap:"ceiling"`
}

// Clone returns a deep copy. Derived resource fields are carried over since
// they describe content that is already stored.
func (a *Alert) Clone() *Alert {
	c := *a
	c.Addresses = append([]string(nil), a.Addresses...)
	c.Codes = append([]KeyValue(nil), a.Codes...)
	c.References = append([]Reference(nil), a.References...)
	c.Incidents = append([]string(nil), a.Incidents...)
	c.Infos = make([]Info, len(a.Infos))
	for i, info := range a.Infos {
		c.Infos[i] = info.clone()
	}
	if a.Infos == nil {
		c.Infos = nil
	}
	return &c
}

func (in Info) clone() Info {
	c := in
	c.Categories = append([]Category(nil), in.Categories...)
	c.ResponseTypes = append([]ResponseType(nil), in.ResponseTypes...)
	c.EventCodes = append([]KeyValue(nil), in.EventCodes...)
	c.Parameters = append([]KeyValue(nil), in.Parameters...)
	c.Resources = append([]Resource(nil), in.Resources...)
	c.Areas = make([]Area, len(in.Areas))
	for i, area := range in.Areas {
		ac := area
		ac.Polygons = append([]string(nil), area.Polygons...)
		ac.Circles = append([]string(nil), area.Circles...)
		ac.Geocodes = append([]KeyValue(nil), area.Geocodes...)
		if area.Altitude != nil {
			v := *area.Altitude
			ac.Altitude = &v
		}
		if area.Ceiling != nil {
			v := *area.Ceiling
			ac.Ceiling = &v
		}
		c.Areas[i] = ac
	}
	if in.Areas == nil {
		c.Areas = nil
	}
	return c
}

const timeLayout = "2006-01-02T15:04:05-07:00"

// FormatTime renders t the way CAP 1.2 requires: second precision with an
// explicit offset, "-00:00" for UTC.
func FormatTime(t time.Time) string {
	if _, off := t.Zone(); off == 0 {
		return t.Format("2006-01-02T15:04:05") + "-00:00"
	}
	return t.Format(timeLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid CAP time %q: %w", s, err)
	}
	return t, nil
}
