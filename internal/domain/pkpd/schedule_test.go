package pkpd

import "testing"

func TestCompileSchedule_SortsAndConverts(t *testing.T) {
	events := []DoseEvent{
		{Time: 30, BolusMg: 10, ContinuousMcgKgMin: 0},
		{Time: 5, BolusMg: 0, ContinuousMcgKgMin: 2},
		{Time: 0, BolusMg: 50, ContinuousMcgKgMin: 0},
	}

	s := CompileSchedule(events, 70)

	if len(s.Boluses) != 2 {
		t.Fatalf("expected 2 boluses, got %d", len(s.Boluses))
	}
	if s.Boluses[0].Time != 0 || s.Boluses[0].AmountMg != 50 {
		t.Errorf("unexpected first bolus %+v", s.Boluses[0])
	}
	if s.Boluses[1].Time != 30 || s.Boluses[1].AmountMg != 10 {
		t.Errorf("unexpected second bolus %+v", s.Boluses[1])
	}

	want := []RateBreakpoint{{0, 0}, {5, 2 * 70 / 1000.0}, {30, 0}}
	if len(s.Infusion) != len(want) {
		t.Fatalf("expected %d breakpoints, got %d: %+v", len(want), len(s.Infusion), s.Infusion)
	}
	for i := range want {
		if s.Infusion[i] != want[i] {
			t.Errorf("breakpoint %d: expected %+v, got %+v", i, want[i], s.Infusion[i])
		}
	}
}

func TestCompileSchedule_SynthesizesZeroAtStart(t *testing.T) {
	s := CompileSchedule([]DoseEvent{{Time: 10, ContinuousMcgKgMin: 1}}, 80)
	if len(s.Infusion) != 2 {
		t.Fatalf("expected 2 breakpoints, got %d", len(s.Infusion))
	}
	if s.Infusion[0].Time != 0 || s.Infusion[0].RateMgMin != 0 {
		t.Errorf("expected synthesized zero breakpoint, got %+v", s.Infusion[0])
	}
	if len(s.Boluses) != 0 {
		t.Errorf("expected no boluses, got %d", len(s.Boluses))
	}
}

func TestCompileSchedule_NoSynthesisWhenStartPresent(t *testing.T) {
	s := CompileSchedule([]DoseEvent{{Time: 0, ContinuousMcgKgMin: 3}}, 50)
	if len(s.Infusion) != 1 {
		t.Fatalf("expected a single breakpoint, got %+v", s.Infusion)
	}
	if s.Infusion[0].RateMgMin != 0.15 {
		t.Errorf("expected 0.15 mg/min, got %v", s.Infusion[0].RateMgMin)
	}
}

func TestCompileSchedule_SameTimeDeduplicated(t *testing.T) {
	events := []DoseEvent{
		{Time: 0, ContinuousMcgKgMin: 5},
		{Time: 20, BolusMg: 10, ContinuousMcgKgMin: 5},
		{Time: 20, ContinuousMcgKgMin: 0},
	}
	s := CompileSchedule(events, 70)

	if len(s.Infusion) != 2 {
		t.Fatalf("expected 2 breakpoints, got %+v", s.Infusion)
	}
	if s.Infusion[1].RateMgMin != 0 {
		t.Errorf("later event at the same time should win, got %v", s.Infusion[1].RateMgMin)
	}
	if len(s.Boluses) != 1 || s.Boluses[0].Time != 20 {
		t.Errorf("bolus at a rate-change time must be kept, got %+v", s.Boluses)
	}
}

func TestSchedule_RateAt(t *testing.T) {
	s := CompileSchedule([]DoseEvent{
		{Time: 10, ContinuousMcgKgMin: 10},
		{Time: 40, ContinuousMcgKgMin: 0},
	}, 100)

	tests := []struct {
		t    float64
		want float64
	}{
		{0, 0},
		{9.99, 0},
		{10, 1},
		{39.5, 1},
		{40, 0},
		{1000, 0},
	}
	for _, tt := range tests {
		if got := s.RateAt(tt.t); got != tt.want {
			t.Errorf("RateAt(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestCompileSchedule_DoesNotMutateInput(t *testing.T) {
	events := []DoseEvent{{Time: 5}, {Time: 1}}
	CompileSchedule(events, 70)
	if events[0].Time != 5 || events[1].Time != 1 {
		t.Errorf("input slice was reordered: %+v", events)
	}
}

func TestLastEventTime(t *testing.T) {
	if got := LastEventTime(nil); got != 0 {
		t.Errorf("expected 0 for empty list, got %v", got)
	}
	got := LastEventTime([]DoseEvent{{Time: 15}, {Time: 90}, {Time: 30}})
	if got != 90 {
		t.Errorf("expected 90, got %v", got)
	}
}
