package cap

import (
	"strings"
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }

func validAlert() *Alert {
	return &Alert{
		Identifier: "KSTO1055887203",
		Sender:     "KSTO@NWS.NOAA.GOV",
		Status:     StatusActual,
		MsgType:    MsgTypeAlert,
		Scope:      ScopePublic,
		Infos: []Info{
			{
				Categories: []Category{CategoryMet},
				Event:      "SEVERE THUNDERSTORM",
				Urgency:    UrgencyImmediate,
				Severity:   SeverityExtreme,
				Certainty:  CertaintyObserved,
				Areas: []Area{
					{Description: "EXTREME NORTH CENTRAL TUOLUMNE COUNTY"},
				},
			},
		},
	}
}

func mustValidationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	return ve
}

func TestSeal_AssignsSentOnValidAlert(t *testing.T) {
	a := validAlert()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := Seal(a, now); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !a.Sent().Equal(now) {
		t.Errorf("expected sent %v, got %v", now, a.Sent())
	}
	if len(a.References) != 0 {
		t.Errorf("expected no references, got %d", len(a.References))
	}
	if a.Infos[0].Language != DefaultLanguage {
		t.Errorf("expected default language %s, got %q", DefaultLanguage, a.Infos[0].Language)
	}
	if !a.Infos[0].Effective.Equal(now) {
		t.Errorf("expected effective to default to sent, got %v", a.Infos[0].Effective)
	}
}

func TestSeal_SentIsWriteOnce(t *testing.T) {
	a := validAlert()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := Seal(a, first); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if err := Seal(a, first.Add(time.Hour)); err != nil {
		t.Fatalf("second Seal failed: %v", err)
	}
	if !a.Sent().Equal(first) {
		t.Errorf("sent changed on reseal: %v", a.Sent())
	}
}

func TestSeal_IdentifierImmutableOnceSent(t *testing.T) {
	a := validAlert()
	if err := Seal(a, time.Now()); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	a.Identifier = "SOMETHING-ELSE"

	ve := mustValidationError(t, Seal(a, time.Now()))
	if !ve.Has("identifier") {
		t.Errorf("expected identifier violation, got %v", ve.Fields)
	}
}

func TestValidate_CancelRequiresReferences(t *testing.T) {
	a := validAlert()
	a.MsgType = MsgTypeCancel

	ve := mustValidationError(t, Validate(a))
	if got := ve.Reason("references"); got != "references required for Cancel" {
		t.Errorf("expected reason 'references required for Cancel', got %q", got)
	}
}

func TestValidate_AcceptsAllEnumCombinations(t *testing.T) {
	ref := Reference{Sender: "KSTO@NWS.NOAA.GOV", Identifier: "KSTO1055887200", Sent: time.Now()}

	for _, status := range Statuses {
		for _, msgType := range MsgTypes {
			a := validAlert()
			a.Status = status
			a.MsgType = msgType
			if msgType != MsgTypeAlert {
				a.References = []Reference{ref}
			}
			if err := Validate(a); err != nil {
				t.Errorf("status=%s msgType=%s: unexpected error: %v", status, msgType, err)
			}
		}
	}

	for _, u := range Urgencies {
		for _, s := range Severities {
			for _, c := range Certainties {
				a := validAlert()
				a.Infos[0].Urgency, a.Infos[0].Severity, a.Infos[0].Certainty = u, s, c
				a.Infos[0].Categories = Categories
				a.Infos[0].ResponseTypes = ResponseTypes
				if err := Validate(a); err != nil {
					t.Errorf("%s/%s/%s: unexpected error: %v", u, s, c, err)
				}
			}
		}
	}
}

func TestValidate_RejectsUnknownEnumValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Alert)
		field  string
	}{
		{"status", func(a *Alert) { a.Status = "Real" }, "status"},
		{"lowercase status", func(a *Alert) { a.Status = "actual" }, "status"},
		{"msgType", func(a *Alert) { a.MsgType = "Alarm" }, "msgType"},
		{"scope", func(a *Alert) { a.Scope = "Everyone" }, "scope"},
		{"category", func(a *Alert) { a.Infos[0].Categories = []Category{CategoryMet, "Weather"} }, "info[0].category[1]"},
		{"responseType", func(a *Alert) { a.Infos[0].ResponseTypes = []ResponseType{"Run"} }, "info[0].responseType[0]"},
		{"urgency", func(a *Alert) { a.Infos[0].Urgency = "Now" }, "info[0].urgency"},
		{"severity", func(a *Alert) { a.Infos[0].Severity = "Bad" }, "info[0].severity"},
		{"certainty", func(a *Alert) { a.Infos[0].Certainty = "Sure" }, "info[0].certainty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAlert()
			tt.mutate(a)
			ve := mustValidationError(t, Validate(a))
			if !ve.Has(tt.field) {
				t.Errorf("expected violation on %s, got %v", tt.field, ve.Fields)
			}
		})
	}
}

func TestValidate_Scope(t *testing.T) {
	a := validAlert()
	a.Scope = ScopePrivate
	ve := mustValidationError(t, Validate(a))
	if !ve.Has("addresses") {
		t.Errorf("expected addresses violation for Private scope, got %v", ve.Fields)
	}

	a.Addresses = []string{"ops@example.org"}
	if err := Validate(a); err != nil {
		t.Errorf("Private scope with addresses should validate: %v", err)
	}

	a = validAlert()
	a.Scope = ScopePublic
	a.Addresses = nil
	if err := Validate(a); err != nil {
		t.Errorf("Public scope with no addresses should validate: %v", err)
	}

	a = validAlert()
	a.Scope = ScopeRestricted
	ve = mustValidationError(t, Validate(a))
	if !ve.Has("restriction") {
		t.Errorf("expected restriction violation, got %v", ve.Fields)
	}
	a.Restriction = "emergency managers only"
	if err := Validate(a); err != nil {
		t.Errorf("Restricted scope with restriction should validate: %v", err)
	}
}

func TestValidate_Ceiling(t *testing.T) {
	tests := []struct {
		name     string
		altitude *float64
		ceiling  *float64
		wantErr  bool
	}{
		{"neither", nil, nil, false},
		{"altitude only", floatPtr(100), nil, false},
		{"ceiling without altitude", nil, floatPtr(500), true},
		{"ceiling above altitude", floatPtr(100), floatPtr(500), false},
		{"ceiling equals altitude", floatPtr(100), floatPtr(100), false},
		{"ceiling below altitude", floatPtr(500), floatPtr(100), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAlert()
			a.Infos[0].Areas[0].Altitude = tt.altitude
			a.Infos[0].Areas[0].Ceiling = tt.ceiling
			err := Validate(a)
			if tt.wantErr {
				ve := mustValidationError(t, err)
				if !ve.Has("info[0].area[0].ceiling") {
					t.Errorf("expected ceiling violation, got %v", ve.Fields)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_ReportsEveryViolationInOrder(t *testing.T) {
	a := validAlert()
	a.Sender = ""
	a.Status = "Bogus"
	a.MsgType = MsgTypeUpdate
	a.Infos[0].Event = ""
	a.Infos[0].Categories = nil
	a.Infos[0].Areas[0].Ceiling = floatPtr(10)

	ve := mustValidationError(t, Validate(a))
	for _, field := range []string{"sender", "status", "references", "info[0].event", "info[0].category", "info[0].area[0].ceiling"} {
		if !ve.Has(field) {
			t.Errorf("expected violation on %s, got %v", field, ve.Fields)
		}
	}

	index := func(field string) int {
		for i, f := range ve.Fields {
			if f.Field == field {
				return i
			}
		}
		return -1
	}
	if index("sender") > index("status") {
		t.Error("required violations should be reported before enum violations")
	}
	if index("status") > index("references") {
		t.Error("enum violations should be reported before cross-field violations")
	}
}

func TestValidate_IdentifierFormat(t *testing.T) {
	for _, id := range []string{"has space", "a,b", "a<b", "a&b"} {
		a := validAlert()
		a.Identifier = id
		ve := mustValidationError(t, Validate(a))
		if !ve.Has("identifier") {
			t.Errorf("identifier %q: expected violation, got %v", id, ve.Fields)
		}
	}
}

func TestValidationError_MessageListsFields(t *testing.T) {
	a := validAlert()
	a.Status = ""
	a.Infos[0].Severity = ""
	err := Validate(a)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "status") || !strings.Contains(msg, "info[0].severity") {
		t.Errorf("error message should list fields, got %q", msg)
	}
}
