package domain

import (
	"testing"
	"time"
)

func TestParseContactPolicy(t *testing.T) {
	tests := []struct {
		input  string
		expect ContactPolicy
		ok     bool
	}{
		{"open", PolicyOpen, true},
		{"AUTO", PolicyAuto, true},
		{"Contacts_Only", PolicyContactsOnly, true},
		{"block_all", PolicyBlockAll, true},
		{"", PolicyAuto, false},
		{"whatever", PolicyAuto, false},
	}
	for _, tc := range tests {
		got, ok := ParseContactPolicy(tc.input)
		if got != tc.expect || ok != tc.ok {
			t.Errorf("ParseContactPolicy(%q) = (%v, %v), want (%v, %v)", tc.input, got, ok, tc.expect, tc.ok)
		}
	}
}

func TestParseImportance(t *testing.T) {
	tests := []struct {
		input  string
		expect Importance
		ok     bool
	}{
		{"low", ImportanceLow, true},
		{"normal", ImportanceNormal, true},
		{"HIGH", ImportanceHigh, true},
		{"urgent", ImportanceUrgent, true},
		{"", ImportanceNormal, false},
		{"critical", ImportanceNormal, false},
	}
	for _, tc := range tests {
		got, ok := ParseImportance(tc.input)
		if got != tc.expect || ok != tc.ok {
			t.Errorf("ParseImportance(%q) = (%v, %v), want (%v, %v)", tc.input, got, ok, tc.expect, tc.ok)
		}
	}
}

func TestImportanceUrgent(t *testing.T) {
	if ImportanceLow.Urgent() || ImportanceNormal.Urgent() {
		t.Error("low/normal should not count as urgent")
	}
	if !ImportanceHigh.Urgent() || !ImportanceUrgent.Urgent() {
		t.Error("high/urgent should count as urgent")
	}
}

func TestClaimActive(t *testing.T) {
	now := time.Now()
	released := now.Add(-time.Minute)

	tests := []struct {
		name   string
		claim  Claim
		expect bool
	}{
		{"live", Claim{ExpiresTS: now.Add(time.Hour)}, true},
		{"expired", Claim{ExpiresTS: now.Add(-time.Second)}, false},
		{"released", Claim{ExpiresTS: now.Add(time.Hour), ReleasedTS: &released}, false},
		{"expires exactly now", Claim{ExpiresTS: now}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.claim.Active(now); got != tc.expect {
				t.Errorf("Active = %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestAgentActiveAt(t *testing.T) {
	now := time.Now()
	fresh := Agent{LastActiveTS: now.Add(-time.Hour)}
	stale := Agent{LastActiveTS: now.Add(-ActiveWindow - time.Hour)}
	if !fresh.ActiveAt(now) {
		t.Error("agent active an hour ago should be active")
	}
	if stale.ActiveAt(now) {
		t.Error("agent beyond the active window should be inactive")
	}
}

func TestCodeOf(t *testing.T) {
	err := Errorf(ErrClaimConflict, "path %s already held", "src/*.go")
	if got := CodeOf(err); got != ErrClaimConflict {
		t.Errorf("CodeOf = %q, want %q", got, ErrClaimConflict)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
	wrapped := wrapErr(err)
	if got := CodeOf(wrapped); got != ErrClaimConflict {
		t.Errorf("CodeOf(wrapped) = %q, want %q", got, ErrClaimConflict)
	}
}

type wrappingError struct{ inner error }

func (w wrappingError) Error() string { return "wrapped: " + w.inner.Error() }
func (w wrappingError) Unwrap() error { return w.inner }

func wrapErr(err error) error { return wrappingError{inner: err} }
