package cap

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

type memContentStore struct {
	puts map[string][]byte
	err  error
}

func (m *memContentStore) Put(ctx context.Context, digest, mimeType string, content []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[digest] = content
	return "blob://" + digest, nil
}

func validRaw() RawAlert {
	return RawAlert{
		Identifier: "EOC-2026-0001",
		Sender:     "eoc@example.org",
		Status:     "Actual",
		MsgType:    "Alert",
		Scope:      "Public",
		InfoIDs:    []string{"en", "es"},
		Infos: map[string]RawInfo{
			"en": {
				Language:    "en-US",
				Categories:  []string{"Met"},
				Event:       "Flood",
				Urgency:     "Immediate",
				Severity:    "Extreme",
				Certainty:   "Observed",
				ResourceIDs: []string{"map"},
				AreaIDs:     []string{"north", "south"},
			},
			"es": {
				Language:   "es-ES",
				Categories: []string{"Met"},
				Event:      "Inundación",
				Urgency:    "Immediate",
				Severity:   "Extreme",
				Certainty:  "Observed",
			},
		},
		Resources: map[string]RawResource{
			"map": {Description: "Flood map", MimeType: "image/png", Content: []byte("png-bytes")},
		},
		Areas: map[string]RawArea{
			"north": {Description: "North district"},
			"south": {Description: "South district", Altitude: floatPtr(0), Ceiling: floatPtr(200)},
		},
	}
}

func newTestAssembler(store ContentStore, now time.Time) *Assembler {
	a := NewAssembler(store)
	a.now = func() time.Time { return now }
	return a
}

func TestAssemble_ResolvesChildrenInOrder(t *testing.T) {
	store := &memContentStore{}
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	asm := newTestAssembler(store, now)

	alert, err := asm.Assemble(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(alert.Infos) != 2 {
		t.Fatalf("expected 2 infos, got %d", len(alert.Infos))
	}
	if alert.Infos[0].Language != "en-US" || alert.Infos[1].Language != "es-ES" {
		t.Errorf("info order not preserved: %s, %s", alert.Infos[0].Language, alert.Infos[1].Language)
	}
	areas := alert.Infos[0].Areas
	if len(areas) != 2 || areas[0].Description != "North district" || areas[1].Description != "South district" {
		t.Errorf("area order not preserved: %+v", areas)
	}
	if !alert.Sent().Equal(now) {
		t.Errorf("expected sent %v, got %v", now, alert.Sent())
	}
}

func TestAssemble_ComputesResourceFields(t *testing.T) {
	store := &memContentStore{}
	asm := newTestAssembler(store, time.Now())

	alert, err := asm.Assemble(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	res := alert.Infos[0].Resources[0]
	sum := sha1.Sum([]byte("png-bytes"))
	wantDigest := hex.EncodeToString(sum[:])
	if res.Digest() != wantDigest {
		t.Errorf("expected digest %s, got %s", wantDigest, res.Digest())
	}
	if res.Size() != int64(len("png-bytes")) {
		t.Errorf("expected size %d, got %d", len("png-bytes"), res.Size())
	}
	if res.URI() != "blob://"+wantDigest {
		t.Errorf("unexpected uri %s", res.URI())
	}
	if _, ok := store.puts[wantDigest]; !ok {
		t.Error("expected content to be stored")
	}
}

func TestAssemble_RejectsDanglingReferences(t *testing.T) {
	raw := validRaw()
	raw.InfoIDs = append(raw.InfoIDs, "fr")
	en := raw.Infos["en"]
	en.AreaIDs = append(en.AreaIDs, "east")
	raw.Infos["en"] = en

	store := &memContentStore{}
	_, err := newTestAssembler(store, time.Now()).Assemble(context.Background(), raw)
	ve := mustValidationError(t, err)
	if !ve.Has("info[2]") {
		t.Errorf("expected dangling info violation, got %v", ve.Fields)
	}
	if !ve.Has("info[0].area[2]") {
		t.Errorf("expected dangling area violation, got %v", ve.Fields)
	}
	if len(store.puts) != 0 {
		t.Error("no content should be stored for an invalid document")
	}
}

func TestAssemble_ReportsValidationAlongsideDangling(t *testing.T) {
	raw := validRaw()
	raw.Status = "Real"
	raw.InfoIDs = append(raw.InfoIDs, "missing")

	_, err := newTestAssembler(nil, time.Now()).Assemble(context.Background(), raw)
	ve := mustValidationError(t, err)
	if !ve.Has("status") || !ve.Has("info[2]") {
		t.Errorf("expected both status and info[2] violations, got %v", ve.Fields)
	}
}

func TestAssemble_StoreFailurePropagates(t *testing.T) {
	storeErr := errors.New("disk full")
	_, err := newTestAssembler(&memContentStore{err: storeErr}, time.Now()).Assemble(context.Background(), validRaw())
	if !errors.Is(err, storeErr) {
		t.Errorf("expected store error to propagate, got %v", err)
	}
}

func TestDerive_UpdateReferencesPrior(t *testing.T) {
	sent := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	asm := newTestAssembler(&memContentStore{}, sent)
	prior, err := asm.Assemble(context.Background(), validRaw())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	priorCopy := prior.Clone()

	asm.now = func() time.Time { return sent.Add(30 * time.Minute) }
	update, err := asm.Derive(prior, MsgTypeUpdate, "")
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	if update.Identifier == prior.Identifier {
		t.Error("derived alert must have a fresh identifier")
	}
	if len(update.References) != 1 {
		t.Fatalf("expected exactly 1 reference, got %d", len(update.References))
	}
	ref := update.References[0]
	if ref.Sender != prior.Sender || ref.Identifier != prior.Identifier || !ref.Sent.Equal(prior.Sent()) {
		t.Errorf("reference %v does not match prior %v", ref, prior.Reference())
	}
	if !update.Sent().After(prior.Sent()) {
		t.Errorf("derived sent %v should follow prior sent %v", update.Sent(), prior.Sent())
	}
	if !update.Infos[0].Effective.Equal(update.Sent()) {
		t.Errorf("effective should follow the new send time, got %v", update.Infos[0].Effective)
	}

	if prior.MsgType != priorCopy.MsgType || len(prior.References) != 0 || !prior.Sent().Equal(priorCopy.Sent()) {
		t.Error("prior alert was mutated by Derive")
	}
}

func TestDerive_RejectsUnsentAndAlertType(t *testing.T) {
	asm := newTestAssembler(nil, time.Now())

	if _, err := asm.Derive(validAlert(), MsgTypeCancel, ""); !errors.Is(err, ErrNotSent) {
		t.Errorf("expected ErrNotSent, got %v", err)
	}

	prior := validAlert()
	if err := Seal(prior, time.Now()); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := asm.Derive(prior, MsgTypeAlert, ""); err == nil {
		t.Error("expected error deriving an Alert message")
	}
	if _, err := asm.Derive(prior, MsgTypeCancel, prior.Identifier); err == nil {
		t.Error("expected error reusing the prior identifier")
	}
}

func TestAssemble_ExpiredBeforeSentStoresNothing(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	raw := validRaw()
	en := raw.Infos["en"]
	en.Expires = now.Add(-time.Hour)
	raw.Infos["en"] = en

	store := &memContentStore{}
	_, err := newTestAssembler(store, now).Assemble(context.Background(), raw)
	ve := mustValidationError(t, err)
	if !ve.Has("info[0].expires") {
		t.Errorf("expected expires violation, got %v", ve.Fields)
	}
	if len(store.puts) != 0 {
		t.Errorf("expected no stored resources, got %d", len(store.puts))
	}
}

func TestDerive_CancelOfExpiredAlert(t *testing.T) {
	sent := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	raw := validRaw()
	en := raw.Infos["en"]
	en.Expires = sent.Add(time.Hour)
	raw.Infos["en"] = en

	asm := newTestAssembler(&memContentStore{}, sent)
	prior, err := asm.Assemble(context.Background(), raw)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	asm.now = func() time.Time { return sent.Add(3 * time.Hour) }
	cancel, err := asm.Derive(prior, MsgTypeCancel, "")
	if err != nil {
		t.Fatalf("Derive of an expired alert failed: %v", err)
	}
	if !cancel.Infos[0].Effective.Equal(sent) {
		t.Errorf("expired info should keep its effective time, got %v", cancel.Infos[0].Effective)
	}
	if !cancel.Infos[1].Effective.Equal(cancel.Sent()) {
		t.Errorf("unexpired info should follow the new send time, got %v", cancel.Infos[1].Effective)
	}
}
