package models

import "testing"

func TestCompanyIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		company Company
		want    string
	}{
		{"listed ticker", Company{Ticker: "ACME", CIK: "1000001"}, "ACME"},
		{"no ticker falls back to CIK", Company{CIK: "1000001"}, "1000001"},
		{"neither", Company{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.company.Identifier(); got != tt.want {
				t.Errorf("Identifier() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusCompleted, StatusFailed} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []Status{"", "done", "PENDING"} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestRunSummaryClean(t *testing.T) {
	tests := []struct {
		name string
		sum  RunSummary
		want bool
	}{
		{"done without failures", RunSummary{State: StateDone}, true},
		{"done with failed companies", RunSummary{State: StateDone, CompaniesFailed: 2}, false},
		{"failed run", RunSummary{State: StateFailed, Error: "resolve companies: boom"}, false},
		{"still processing", RunSummary{State: StateProcessing}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sum.Clean(); got != tt.want {
				t.Errorf("Clean() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunSummaryCopyIsIndependent(t *testing.T) {
	orig := RunSummary{
		RunID:    "run-1",
		Failures: map[string]int{FailureParse: 1},
	}
	snap := orig.Copy()

	orig.Failures[FailureParse] = 5
	orig.Failures[FailureTransient] = 2

	if snap.Failures[FailureParse] != 1 || len(snap.Failures) != 1 {
		t.Errorf("copy shares the failure map: %v", snap.Failures)
	}
}
