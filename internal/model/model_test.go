// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg := NewUserMessage("what is unfair dismissal?")

	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("ID should start with 'msg_', got %q", msg.ID)
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %q, want %q", msg.Role, RoleUser)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNewAssistantMessage(t *testing.T) {
	msg := NewAssistantMessage("answer", "working notes", []string{"ERA 1996 s.94"})

	if msg.Role != RoleAssistant {
		t.Errorf("Role = %q, want assistant", msg.Role)
	}
	if !msg.HasReasoning() {
		t.Error("HasReasoning should be true")
	}
	if len(msg.Sources) != 1 || msg.Sources[0] != "ERA 1996 s.94" {
		t.Errorf("Sources = %v", msg.Sources)
	}
}

func TestRoleDisplayName(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "You"},
		{RoleAssistant, "Counsel"},
		{RoleSystem, "System"},
		{Role("other"), "other"},
	}
	for _, tt := range tests {
		if got := tt.role.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestMessagePreview(t *testing.T) {
	msg := NewUserMessage("a reasonably long question about contract law")

	if got := msg.Preview(10); got != "a reaso..." {
		t.Errorf("Preview = %q", got)
	}
	if got := msg.Preview(100); got != msg.Content {
		t.Errorf("short content should be returned whole, got %q", got)
	}
}
