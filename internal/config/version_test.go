package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version     int
		wantProblem VersionProblem
		wantMsg     string
	}{
		{CurrentVersion, 0, ""},
		{0, VersionInvalid, "omit the key"},
		{-3, VersionInvalid, "set version: 1"},
		{CurrentVersion + 1, VersionTooNew, "newer chatia"},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if tt.wantProblem == 0 {
			if err != nil {
				t.Errorf("ValidateVersion(%d) = %v, want nil", tt.version, err)
			}
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("ValidateVersion(%d) = %T, want *VersionError", tt.version, err)
		}
		if ve.Problem != tt.wantProblem {
			t.Errorf("ValidateVersion(%d) problem = %d, want %d", tt.version, ve.Problem, tt.wantProblem)
		}
		if !strings.Contains(ve.Error(), tt.wantMsg) {
			t.Errorf("ValidateVersion(%d) message %q lacks %q", tt.version, ve.Error(), tt.wantMsg)
		}
	}
}

func TestVersionError_Message(t *testing.T) {
	var nilErr *VersionError
	if got := nilErr.Error(); got != "" {
		t.Errorf("nil receiver = %q", got)
	}
	old := &VersionError{Version: 1, Current: 2, Problem: VersionTooOld}
	if got := old.Error(); !strings.Contains(got, "chatia config schema") {
		t.Errorf("too old = %q", got)
	}
	if got := (&VersionError{Version: 7, Current: 1}).Error(); !strings.Contains(got, "not supported") {
		t.Errorf("no problem = %q", got)
	}
}
