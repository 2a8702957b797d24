package argo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FloatChatAI/floatchat-engine/engine/argo/argotest"
	"github.com/FloatChatAI/floatchat-engine/engine/domain"
)

func twoProfiles() []argotest.Profile {
	return []argotest.Profile{
		{
			Platform: "2902746",
			Cycle:    12,
			Time:     time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
			Lat:      12.5,
			Lon:      88.2,
			Levels: []argotest.Level{
				{Pres: 2.1, Temp: 28.4, Psal: 33.1},
				{Pres: 50, Temp: 24.0, Psal: 34.2},
				{Pres: 200, Temp: 14.3, Psal: 34.9},
			},
		},
		{
			Platform: "5906042",
			Cycle:    3,
			Time:     time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			Lat:      -2.0,
			Lon:      67.5,
			Levels: []argotest.Level{
				{Pres: 5, Temp: 29.1, Psal: 34.8},
			},
		},
	}
}

func TestDecodeHeader(t *testing.T) {
	f, err := Decode(argotest.Encode(twoProfiles()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n, _ := dimSize(f, "N_PROF"); n != 2 {
		t.Errorf("N_PROF = %d, want 2", n)
	}
	if n, _ := dimSize(f, "N_LEVELS"); n != 3 {
		t.Errorf("N_LEVELS = %d, want 3", n)
	}
	for _, name := range []string{"PLATFORM_NUMBER", "CYCLE_NUMBER", "JULD", "LATITUDE", "LONGITUDE", "PRES", "TEMP", "PSAL"} {
		if !f.HasVar(name) {
			t.Errorf("missing variable %s", name)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("this is not a profile file")); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	if _, err := Decode([]byte{'C', 'D', 'F', 1, 0}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestRecords(t *testing.T) {
	f, err := Decode(argotest.Encode(twoProfiles()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	recs, err := Records(f, "test.nc")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	r := recs[0]
	if r.FloatID != "2902746" || r.Cycle != 12 {
		t.Errorf("id = %s:%d, want 2902746:12", r.FloatID, r.Cycle)
	}
	if r.Latitude != 12.5 || r.Longitude != 88.2 {
		t.Errorf("position = (%g, %g)", r.Latitude, r.Longitude)
	}
	want := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	if d := r.Time.Sub(want); d > time.Second || d < -time.Second {
		t.Errorf("time = %v, want %v", r.Time, want)
	}
	if len(r.Levels) != 3 {
		t.Fatalf("got %d levels, want 3", len(r.Levels))
	}
	if err := domain.ValidateProfile(r); err != nil {
		t.Errorf("parsed profile invalid: %v", err)
	}

	// The second profile has one real level; fill-value padding must be
	// dropped, not parsed as measurements.
	if len(recs[1].Levels) != 1 {
		t.Errorf("got %d levels for padded profile, want 1", len(recs[1].Levels))
	}
}

func TestRecordsSkipsFillCycle(t *testing.T) {
	ps := twoProfiles()
	ps[0].Cycle = 99999
	f, err := Decode(argotest.Encode(ps))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	recs, err := Records(f, "test.nc")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want the fill-cycle profile dropped", len(recs))
	}
	if recs[0].FloatID != "5906042" {
		t.Errorf("kept the wrong profile: %s", recs[0].FloatID)
	}
}

func TestRecordsSortsLevelsByPressure(t *testing.T) {
	ps := twoProfiles()[:1]
	ps[0].Levels = []argotest.Level{
		{Pres: 200, Temp: 14.3, Psal: 34.9},
		{Pres: 2.1, Temp: 28.4, Psal: 33.1},
	}
	f, _ := Decode(argotest.Encode(ps))
	recs, err := Records(f, "test.nc")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if recs[0].Levels[0].Pressure != 2.1 {
		t.Errorf("levels not sorted: first pressure %g", recs[0].Levels[0].Pressure)
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path, err := argotest.WriteFile(dir, "R2902746_012.nc", twoProfiles())
	if err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	recs, err := ParseFile(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].SourceFile != "R2902746_012.nc" {
		t.Errorf("source file = %q", recs[0].SourceFile)
	}
}

func TestParseFile_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.nc")
	if err := os.WriteFile(path, []byte("corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(path); err == nil {
		t.Fatal("expected error for malformed file")
	}
}
