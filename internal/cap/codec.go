package cap

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const Namespace = "urn:oasis:names:tc:emergency:cap:1.2"

type xmlAlert struct {
	XMLName     xml.Name  `xml:"urn:oasis:names:tc:emergency:cap:1.2 alert"`
	Identifier  string    `xml:"identifier"`
	Sender      string    `xml:"sender"`
	Sent        string    `xml:"sent"`
	Status      string    `xml:"status"`
	MsgType     string    `xml:"msgType"`
	Source      string    `xml:"source,omitempty"`
	Scope       string    `xml:"scope"`
	Restriction string    `xml:"restriction,omitempty"`
	Addresses   string    `xml:"addresses,omitempty"`
	Codes       []string  `xml:"code"`
	Note        string    `xml:"note,omitempty"`
	References  string    `xml:"references,omitempty"`
	Incidents   string    `xml:"incidents,omitempty"`
	Infos       []xmlInfo `xml:"info"`
}

type xmlPair struct {
	ValueName string `xml:"valueName"`
	Value     string `xml:"value"`
}

type xmlInfo struct {
	Language      string        `xml:"language,omitempty"`
	Categories    []string      `xml:"category"`
	Event         string        `xml:"event"`
	ResponseTypes []string      `xml:"responseType"`
	Urgency       string        `xml:"urgency"`
	Severity      string        `xml:"severity"`
	Certainty     string        `xml:"certainty"`
	Audience      string        `xml:"audience,omitempty"`
	EventCodes    []xmlPair     `xml:"eventCode"`
	Effective     string        `xml:"effective,omitempty"`
	Onset         string        `xml:"onset,omitempty"`
	Expires       string        `xml:"expires,omitempty"`
	SenderName    string        `xml:"senderName,omitempty"`
	Headline      string        `xml:"headline,omitempty"`
	Description   string        `xml:"description,omitempty"`
	Instruction   string        `xml:"instruction,omitempty"`
	Web           string        `xml:"web,omitempty"`
	Contact       string        `xml:"contact,omitempty"`
	Parameters    []xmlPair     `xml:"parameter"`
	Resources     []xmlResource `xml:"resource"`
	Areas         []xmlArea     `xml:"area"`
}

type xmlResource struct {
	Description string `xml:"resourceDesc"`
	MimeType    string `xml:"mimeType"`
	Size        string `xml:"size,omitempty"`
	URI         string `xml:"uri,omitempty"`
	DerefURI    string `xml:"derefUri,omitempty"`
	Digest      string `xml:"digest,omitempty"`
}

type xmlArea struct {
	Description string    `xml:"areaDesc"`
	Polygons    []string  `xml:"polygon"`
	Circles     []string  `xml:"circle"`
	Geocodes    []xmlPair `xml:"geocode"`
	Altitude    string    `xml:"altitude,omitempty"`
	Ceiling     string    `xml:"ceiling,omitempty"`
}

// Decode reads one CAP 1.2 alert. Fields that fail to parse (times, numbers,
// references) are reported together as a *ValidationError; enumerations are
// carried verbatim and checked by Validate.
//
// Send time and resource size/uri/digest are taken from the document: a
// decoded alert is one somebody already sent.
func Decode(r io.Reader) (*Alert, error) {
	var x xmlAlert
	if err := xml.NewDecoder(r).Decode(&x); err != nil {
		return nil, fmt.Errorf("error decoding CAP alert: %w", err)
	}
	return fromXML(&x)
}

func Unmarshal(data []byte) (*Alert, error) {
	return Decode(bytes.NewReader(data))
}

func fromXML(x *xmlAlert) (*Alert, error) {
	ve := &ValidationError{}
	bad := func(field string, err error) {
		ve.Fields = append(ve.Fields, FieldError{Field: field, Reason: err.Error()})
	}
	parseTime := func(field, s string) time.Time {
		if strings.TrimSpace(s) == "" {
			return time.Time{}
		}
		t, err := ParseTime(s)
		if err != nil {
			bad(field, err)
		}
		return t
	}
	parseFloat := func(field, s string) *float64 {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			bad(field, fmt.Errorf("invalid number %q", s))
			return nil
		}
		return &f
	}

	a := &Alert{
		Identifier:  strings.TrimSpace(x.Identifier),
		Sender:      strings.TrimSpace(x.Sender),
		Status:      Status(strings.TrimSpace(x.Status)),
		MsgType:     MsgType(strings.TrimSpace(x.MsgType)),
		Source:      x.Source,
		Scope:       Scope(strings.TrimSpace(x.Scope)),
		Restriction: x.Restriction,
		Addresses:   splitQuoted(x.Addresses),
		Note:        x.Note,
		Incidents:   splitQuoted(x.Incidents),
	}
	a.sent = parseTime("sent", x.Sent)
	if !a.sent.IsZero() {
		// A decoded alert with a send time has already gone out.
		a.sealedID, a.sealedSender = a.Identifier, a.Sender
	}
	for _, c := range x.Codes {
		a.Codes = append(a.Codes, parseCode(c))
	}
	refs, err := splitReferences(x.References)
	if err != nil {
		bad("references", err)
	}
	a.References = refs

	for i, xi := range x.Infos {
		prefix := fmt.Sprintf("info[%d]", i)
		info := Info{
			Language:    xi.Language,
			Event:       xi.Event,
			Urgency:     Urgency(strings.TrimSpace(xi.Urgency)),
			Severity:    Severity(strings.TrimSpace(xi.Severity)),
			Certainty:   Certainty(strings.TrimSpace(xi.Certainty)),
			Audience:    xi.Audience,
			EventCodes:  pairs(xi.EventCodes),
			Effective:   parseTime(prefix+".effective", xi.Effective),
			Onset:       parseTime(prefix+".onset", xi.Onset),
			Expires:     parseTime(prefix+".expires", xi.Expires),
			SenderName:  xi.SenderName,
			Headline:    xi.Headline,
			Description: xi.Description,
			Instruction: xi.Instruction,
			Web:         xi.Web,
			Contact:     xi.Contact,
			Parameters:  pairs(xi.Parameters),
		}
		for _, c := range xi.Categories {
			info.Categories = append(info.Categories, Category(strings.TrimSpace(c)))
		}
		for _, rt := range xi.ResponseTypes {
			info.ResponseTypes = append(info.ResponseTypes, ResponseType(strings.TrimSpace(rt)))
		}
		for j, xr := range xi.Resources {
			res := Resource{
				Description:   xr.Description,
				MimeType:      xr.MimeType,
				EmbedAsBase64: xr.DerefURI != "",
				uri:           xr.URI,
				digest:        xr.Digest,
				deref:         xr.DerefURI,
			}
			if xr.Size != "" {
				n, err := strconv.ParseInt(strings.TrimSpace(xr.Size), 10, 64)
				if err != nil {
					bad(fmt.Sprintf("%s.resource[%d].size", prefix, j), fmt.Errorf("invalid size %q", xr.Size))
				}
				res.size = n
			}
			info.Resources = append(info.Resources, res)
		}
		for j, xa := range xi.Areas {
			areaPrefix := fmt.Sprintf("%s.area[%d]", prefix, j)
			info.Areas = append(info.Areas, Area{
				Description: xa.Description,
				Polygons:    xa.Polygons,
				Circles:     xa.Circles,
				Geocodes:    pairs(xa.Geocodes),
				Altitude:    parseFloat(areaPrefix+".altitude", xa.Altitude),
				Ceiling:     parseFloat(areaPrefix+".ceiling", xa.Ceiling),
			})
		}
		a.Infos = append(a.Infos, info)
	}

	if len(ve.Fields) > 0 {
		return nil, ve
	}
	return a, nil
}

func pairs(xs []xmlPair) []KeyValue {
	if len(xs) == 0 {
		return nil
	}
	out := make([]KeyValue, len(xs))
	for i, p := range xs {
		out[i] = KeyValue{Key: p.ValueName, Value: p.Value}
	}
	return out
}

func xmlPairs(kvs []KeyValue) []xmlPair {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]xmlPair, len(kvs))
	for i, kv := range kvs {
		out[i] = xmlPair{ValueName: kv.Key, Value: kv.Value}
	}
	return out
}

// Encode writes a as an indented CAP 1.2 document with an XML header.
func Encode(w io.Writer, a *Alert) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(toXML(a)); err != nil {
		return fmt.Errorf("error encoding CAP alert: %w", err)
	}
	return enc.Flush()
}

func Marshal(a *Alert) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toXML(a *Alert) *xmlAlert {
	x := &xmlAlert{
		Identifier:  a.Identifier,
		Sender:      a.Sender,
		Status:      string(a.Status),
		MsgType:     string(a.MsgType),
		Source:      a.Source,
		Scope:       string(a.Scope),
		Restriction: a.Restriction,
		Addresses:   joinQuoted(a.Addresses),
		Note:        a.Note,
		References:  joinReferences(a.References),
		Incidents:   joinQuoted(a.Incidents),
	}
	if !a.sent.IsZero() {
		x.Sent = FormatTime(a.sent)
	}
	for _, c := range a.Codes {
		x.Codes = append(x.Codes, formatCode(c))
	}
	for _, info := range a.Infos {
		xi := xmlInfo{
			Language:    info.Language,
			Event:       info.Event,
			Urgency:     string(info.Urgency),
			Severity:    string(info.Severity),
			Certainty:   string(info.Certainty),
			Audience:    info.Audience,
			EventCodes:  xmlPairs(info.EventCodes),
			Effective:   optTime(info.Effective),
			Onset:       optTime(info.Onset),
			Expires:     optTime(info.Expires),
			SenderName:  info.SenderName,
			Headline:    info.Headline,
			Description: info.Description,
			Instruction: info.Instruction,
			Web:         info.Web,
			Contact:     info.Contact,
			Parameters:  xmlPairs(info.Parameters),
		}
		for _, c := range info.Categories {
			xi.Categories = append(xi.Categories, string(c))
		}
		for _, rt := range info.ResponseTypes {
			xi.ResponseTypes = append(xi.ResponseTypes, string(rt))
		}
		for _, r := range info.Resources {
			xr := xmlResource{
				Description: r.Description,
				MimeType:    r.MimeType,
				URI:         r.uri,
				Digest:      r.digest,
			}
			if r.size > 0 {
				xr.Size = strconv.FormatInt(r.size, 10)
			}
			if r.EmbedAsBase64 {
				xr.DerefURI = r.deref
			}
			xi.Resources = append(xi.Resources, xr)
		}
		for _, area := range info.Areas {
			xi.Areas = append(xi.Areas, xmlArea{
				Description: area.Description,
				Polygons:    area.Polygons,
				Circles:     area.Circles,
				Geocodes:    xmlPairs(area.Geocodes),
				Altitude:    optFloat(area.Altitude),
				Ceiling:     optFloat(area.Ceiling),
			})
		}
		x.Infos = append(x.Infos, xi)
	}
	return x
}

func optTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return FormatTime(t)
}

func optFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// decodeDeref returns the bytes of an embedded derefUri payload.
func decodeDeref(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
