package stages

import "testing"

func TestTransitionValid(t *testing.T) {
	cases := []struct {
		from Name
		to   Name
		want bool
	}{
		{StageIntake, StageIntake, true},
		{StageIntake, StageMainConvo, true},
		{StageIntake, StageCallSummary, true},
		{StageMainConvo, StageCallSummary, true},
		{StageMainConvo, StageIntake, false},
		{StageMainConvo, StageMainConvo, false},
		{StageCallSummary, StageIntake, false},
		{StageCallSummary, StageMainConvo, false},
		{StageCallSummary, StageCallSummary, false},
		{Name("unknown"), StageIntake, false},
		{StageIntake, Name("unknown"), false},
	}
	for _, tc := range cases {
		if got := TransitionValid(tc.from, tc.to); got != tc.want {
			t.Fatalf("TransitionValid(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{From: StageMainConvo, To: StageIntake}
	want := "invalid stage transition from main_convo to intake"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
