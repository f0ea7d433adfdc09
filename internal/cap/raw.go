package cap

import (
	"fmt"
	"time"
)

// RawAlert is the flat submission form. Children are held in id-keyed arenas
// and listed by id, in order, on their parent.
type RawAlert struct {
	Identifier  string      `json:"identifier"`
	Sender      string      `json:"sender"`
	Status      string      `json:"status"`
	MsgType     string      `json:"msgType"`
	Source      string      `json:"source,omitempty"`
	Scope       string      `json:"scope"`
	Restriction string      `json:"restriction,omitempty"`
	Addresses   []string    `json:"addresses,omitempty"`
	Codes       []KeyValue  `json:"codes,omitempty"`
	Note        string      `json:"note,omitempty"`
	References  []Reference `json:"references,omitempty"`
	Incidents   []string    `json:"incidents,omitempty"`
	InfoIDs     []string    `json:"infoIds,omitempty"`

	Infos     map[string]RawInfo     `json:"infos,omitempty"`
	Resources map[string]RawResource `json:"resources,omitempty"`
	Areas     map[string]RawArea     `json:"areas,omitempty"`
}

type RawInfo struct {
	Language      string     `json:"language,omitempty"`
	Categories    []string   `json:"categories"`
	Event         string     `json:"event"`
	ResponseTypes []string   `json:"responseTypes,omitempty"`
	Urgency       string     `json:"urgency"`
	Severity      string     `json:"severity"`
	Certainty     string     `json:"certainty"`
	Audience      string     `json:"audience,omitempty"`
	EventCodes    []KeyValue `json:"eventCodes,omitempty"`
	Effective     time.Time  `json:"effective,omitempty"`
	Onset         time.Time  `json:"onset,omitempty"`
	Expires       time.Time  `json:"expires,omitempty"`
	SenderName    string     `json:"senderName,omitempty"`
	Headline      string     `json:"headline,omitempty"`
	Description   string     `json:"description,omitempty"`
	Instruction   string     `json:"instruction,omitempty"`
	Web           string     `json:"web,omitempty"`
	Contact       string     `json:"contact,omitempty"`
	Parameters    []KeyValue `json:"parameters,omitempty"`
	ResourceIDs   []string   `json:"resourceIds,omitempty"`
	AreaIDs       []string   `json:"areaIds,omitempty"`
}

// RawResource carries content, not its derived size, uri or digest.
type RawResource struct {
	Description   string `json:"description"`
	MimeType      string `json:"mimeType"`
	Content       []byte `json:"content,omitempty"`
	EmbedAsBase64 bool   `json:"embedAsBase64,omitempty"`
}

type RawArea struct {
	Description string     `json:"description"`
	Polygons    []string   `json:"polygons,omitempty"`
	Circles     []string   `json:"circles,omitempty"`
	Geocodes    []KeyValue `json:"geocodes,omitempty"`
	Altitude    *float64   `json:"altitude,omitempty"`
	Ceiling     *float64   `json:"ceiling,omitempty"`
}

// RawFromAlert flattens a decoded document into submission form. Send time
// and derived resource fields are dropped; embedded derefUri payloads become
// resource content.
func RawFromAlert(a *Alert) (RawAlert, error) {
	raw := RawAlert{
		Identifier:  a.Identifier,
		Sender:      a.Sender,
		Status:      string(a.Status),
		MsgType:     string(a.MsgType),
		Source:      a.Source,
		Scope:       string(a.Scope),
		Restriction: a.Restriction,
		Addresses:   a.Addresses,
		Codes:       a.Codes,
		Note:        a.Note,
		References:  a.References,
		Incidents:   a.Incidents,
		Infos:       make(map[string]RawInfo),
		Resources:   make(map[string]RawResource),
		Areas:       make(map[string]RawArea),
	}
	for i, info := range a.Infos {
		infoID := fmt.Sprintf("info-%d", i)
		ri := RawInfo{
			Language:    info.Language,
			Event:       info.Event,
			Urgency:     string(info.Urgency),
			Severity:    string(info.Severity),
			Certainty:   string(info.Certainty),
			Audience:    info.Audience,
			EventCodes:  info.EventCodes,
			Effective:   info.Effective,
			Onset:       info.Onset,
			Expires:     info.Expires,
			SenderName:  info.SenderName,
			Headline:    info.Headline,
			Description: info.Description,
			Instruction: info.Instruction,
			Web:         info.Web,
			Contact:     info.Contact,
			Parameters:  info.Parameters,
		}
		for _, c := range info.Categories {
			ri.Categories = append(ri.Categories, string(c))
		}
		for _, rt := range info.ResponseTypes {
			ri.ResponseTypes = append(ri.ResponseTypes, string(rt))
		}
		for j, res := range info.Resources {
			id := fmt.Sprintf("%s-resource-%d", infoID, j)
			rr := RawResource{
				Description:   res.Description,
				MimeType:      res.MimeType,
				EmbedAsBase64: res.EmbedAsBase64,
			}
			if res.deref != "" {
				content, err := decodeDeref(res.deref)
				if err != nil {
					return RawAlert{}, &ValidationError{Fields: []FieldError{{
						Field:  fmt.Sprintf("info[%d].resource[%d].derefUri", i, j),
						Reason: "invalid base64 content",
					}}}
				}
				rr.Content = content
			}
			raw.Resources[id] = rr
			ri.ResourceIDs = append(ri.ResourceIDs, id)
		}
		for j, area := range info.Areas {
			id := fmt.Sprintf("%s-area-%d", infoID, j)
			raw.Areas[id] = RawArea{
				Description: area.Description,
				Polygons:    area.Polygons,
				Circles:     area.Circles,
				Geocodes:    area.Geocodes,
				Altitude:    area.Altitude,
				Ceiling:     area.Ceiling,
			}
			ri.AreaIDs = append(ri.AreaIDs, id)
		}
		raw.Infos[infoID] = ri
		raw.InfoIDs = append(raw.InfoIDs, infoID)
	}
	return raw, nil
}
