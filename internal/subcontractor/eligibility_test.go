package subcontractor

import (
	"testing"

	"github.com/google/uuid"
)

func sub(name string, areas, specialties []string, active bool) Subcontractor {
	return Subcontractor{
		ID:           uuid.New(),
		Name:         name,
		ServiceAreas: areas,
		Specialties:  specialties,
		IsActive:     active,
	}
}

func TestMatchesArea_PrefixBothDirections(t *testing.T) {
	cases := []struct {
		areas []string
		code  string
		want  bool
	}{
		{[]string{"206"}, "206", true},
		{[]string{"206"}, "2065551234", true}, // full number starts with area
		{[]string{"20655"}, "206", true},      // stored area more specific
		{[]string{"425"}, "206", false},
		{nil, "206", false},
		{[]string{"206"}, "", false},
	}
	for _, tc := range cases {
		if got := MatchesArea(tc.areas, tc.code); got != tc.want {
			t.Errorf("MatchesArea(%v, %q) = %v, want %v", tc.areas, tc.code, got, tc.want)
		}
	}
}

func TestMatchesSpecialty_EmptyAcceptsAnything(t *testing.T) {
	if !MatchesSpecialty(nil, "windshield") {
		t.Fatal("empty specialty list must accept any service type")
	}
	if !MatchesSpecialty([]string{"Windshield"}, "windshield") {
		t.Fatal("specialty match must be case-insensitive")
	}
	if MatchesSpecialty([]string{"side_window"}, "windshield") {
		t.Fatal("non-matching specialty must not be eligible")
	}
}

func TestFilterEligible(t *testing.T) {
	generalist := sub("generalist", []string{"206"}, nil, true)
	specialist := sub("specialist", []string{"206"}, []string{"windshield"}, true)
	wrongArea := sub("wrong-area", []string{"425"}, nil, true)
	wrongWork := sub("wrong-work", []string{"206"}, []string{"side_window"}, true)
	inactive := sub("inactive", []string{"206"}, nil, false)

	got := FilterEligible(
		[]Subcontractor{generalist, specialist, wrongArea, wrongWork, inactive},
		"206", "windshield")

	if len(got) != 2 {
		t.Fatalf("expected 2 eligible, got %d", len(got))
	}
	for _, s := range got {
		if s.Name != "generalist" && s.Name != "specialist" {
			t.Fatalf("unexpected eligible subcontractor %q", s.Name)
		}
	}
}

func TestAvailability_Offerable(t *testing.T) {
	a := Availability{IsAvailable: true, MaxJobs: 2, CurrentJobs: 1}
	if !a.Offerable() {
		t.Fatal("day with spare capacity must be offerable")
	}
	a.CurrentJobs = 2
	if a.Offerable() {
		t.Fatal("full day must not be offerable")
	}
	a = Availability{IsAvailable: false, MaxJobs: 2}
	if a.Offerable() {
		t.Fatal("unavailable day must not be offerable")
	}
}
