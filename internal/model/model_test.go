package model

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		p    float64
		want RiskLevel
	}{
		{0, RiskLow},
		{0.39, RiskLow},
		{0.4, RiskModerate},
		{0.69, RiskModerate},
		{0.7, RiskHigh},
		{1, RiskHigh},
	}
	for _, tt := range tests {
		if got := ClassifyRisk(tt.p); got != tt.want {
			t.Errorf("ClassifyRisk(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}
}

func TestUser_FullName(t *testing.T) {
	var nilUser *User
	if got := nilUser.FullName(); got != "" {
		t.Errorf("nil user FullName = %q, want empty", got)
	}

	u := &User{Metadata: map[string]any{MetadataFullName: "Jane Doe"}}
	if got := u.FullName(); got != "Jane Doe" {
		t.Errorf("FullName = %q, want Jane Doe", got)
	}

	u = &User{Metadata: map[string]any{MetadataFullName: 42}}
	if got := u.FullName(); got != "" {
		t.Errorf("non-string FullName = %q, want empty", got)
	}
}

func TestSession_UserID(t *testing.T) {
	var s *Session
	if s.UserID() != "" {
		t.Error("nil session should have empty user id")
	}
	s = &Session{User: &User{ID: "u1"}}
	if s.UserID() != "u1" {
		t.Errorf("UserID = %q, want u1", s.UserID())
	}
}

func TestSession_ExpiresWithin(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		margin    time.Duration
		want      bool
	}{
		{"unknown expiry", time.Time{}, time.Minute, false},
		{"far future", now.Add(time.Hour), time.Minute, false},
		{"inside margin", now.Add(30 * time.Second), time.Minute, true},
		{"exactly at margin", now.Add(time.Minute), time.Minute, true},
		{"already expired", now.Add(-time.Minute), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			if got := s.ExpiresWithin(now, tt.margin); got != tt.want {
				t.Errorf("ExpiresWithin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrors_Messages(t *testing.T) {
	if got := NewNoUserLoggedInError().Error(); got != "[NO_USER_LOGGED_IN] No user logged in" {
		t.Errorf("unexpected message: %s", got)
	}

	var err error = &AuthError{Status: 400, Message: "Invalid login credentials"}
	if err.Error() != "Invalid login credentials" {
		t.Errorf("AuthError should pass message through, got %q", err.Error())
	}

	var dataErr *DataError
	err = &DataError{Status: 409, Message: "duplicate key value"}
	if !errors.As(err, &dataErr) || dataErr.Error() != "duplicate key value" {
		t.Errorf("DataError should pass message through, got %q", err.Error())
	}
}
