package session

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestSessionID(t *testing.T) {
	tests := []struct {
		project string
		branch  string
		want    string
	}{
		{"myapp", "feat-x", "myapp-feat-x"},
		{"myapp", "feature/login", "myapp-feature-login"},
		{"myapp", "fix/issue #42", "myapp-fix-issue-42"},
		{"myapp", "v1.2.3", "myapp-v1.2.3"},
	}

	for _, tt := range tests {
		if got := SessionID(tt.project, tt.branch); got != tt.want {
			t.Errorf("SessionID(%q, %q) = %q, want %q", tt.project, tt.branch, got, tt.want)
		}
	}

	// Determinism: same inputs always map to the same id.
	if SessionID("p", "b") != SessionID("p", "b") {
		t.Error("SessionID is not deterministic")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := New("myapp", "feat-x", "/wt/myapp/feat-x", "claude", "claude --yolo",
		PortRange{Start: 3000, End: 3009, Count: 10})
	s.SetIdentity(&ProcessIdentity{PID: 4242, Name: "claude", StartTime: 1700000000})
	s.SetTerminal(TerminalITerm)
	s.Touch()
	note := "spike"
	s.Note = &note

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got Session
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	got.Normalize()

	if !reflect.DeepEqual(s.Identity(), got.Identity()) {
		t.Errorf("identity changed across round trip: %v vs %v", s.Identity(), got.Identity())
	}
	if got.ID != s.ID || got.Branch != s.Branch || got.Status != s.Status {
		t.Error("core fields changed across round trip")
	}
	if got.PortRange() != s.PortRange() {
		t.Errorf("port range changed: %v vs %v", got.PortRange(), s.PortRange())
	}
	if got.Note == nil || *got.Note != "spike" {
		t.Error("note lost across round trip")
	}
	if *got.TerminalType != TerminalITerm {
		t.Errorf("terminal type = %v", *got.TerminalType)
	}
}

func TestDeserializeOlderRecord(t *testing.T) {
	// A record written before status, port_count, note, and the identity
	// fields existed must load with defaults, not fail.
	raw := `{
		"id": "myapp-old",
		"project_id": "myapp",
		"branch": "old",
		"worktree_path": "/wt/myapp/old",
		"agent": "claude",
		"created_at": "2025-01-02T03:04:05Z",
		"port_range_start": 3000,
		"port_range_end": 3009,
		"command": "claude"
	}`

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	s.Normalize()

	if s.Status != StatusStopped {
		t.Errorf("missing status should default to Stopped, got %q", s.Status)
	}
	if s.PortCount != 10 {
		t.Errorf("missing port_count should derive from bounds, got %d", s.PortCount)
	}
	if s.Identity() != nil {
		t.Error("missing identity fields should yield nil identity")
	}
	if s.LastActivity != nil {
		t.Error("missing last_activity should stay nil")
	}
	if s.Note != nil {
		t.Error("missing note should stay nil")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("normalized older record should validate: %v", err)
	}
}

func TestNormalizeDropsPartialIdentity(t *testing.T) {
	pid := 4242
	s := &Session{ID: "x", Branch: "x", Status: StatusActive, ProcessID: &pid}
	s.Normalize()
	if s.ProcessID != nil {
		t.Error("a partial identity triple must be cleared")
	}
}

func TestIdentityAccessors(t *testing.T) {
	s := &Session{}
	if s.Identity() != nil {
		t.Error("empty session should have nil identity")
	}

	id := &ProcessIdentity{PID: 7, Name: "claude", StartTime: 99}
	s.SetIdentity(id)
	got := s.Identity()
	if got == nil || *got != *id {
		t.Errorf("Identity() = %v, want %v", got, id)
	}

	s.SetIdentity(nil)
	if s.Identity() != nil {
		t.Error("SetIdentity(nil) should clear the triple")
	}
}

func TestPortRangeHelpers(t *testing.T) {
	r := PortRange{Start: 3000, End: 3009, Count: 10}

	if !r.Contains(3000) || !r.Contains(3009) {
		t.Error("range should contain its bounds")
	}
	if r.Contains(2999) || r.Contains(3010) {
		t.Error("range should not contain ports outside its bounds")
	}

	if !r.Overlaps(PortRange{Start: 3009, End: 3020}) {
		t.Error("touching ranges overlap")
	}
	if r.Overlaps(PortRange{Start: 3010, End: 3019}) {
		t.Error("adjacent ranges do not overlap")
	}
}

func TestValidate(t *testing.T) {
	valid := New("p", "b", "/wt", "claude", "claude", PortRange{Start: 3000, End: 3009, Count: 10})
	if err := valid.Validate(); err != nil {
		t.Errorf("valid session failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Session)
	}{
		{"empty id", func(s *Session) { s.ID = "" }},
		{"empty branch", func(s *Session) { s.Branch = "" }},
		{"bad status", func(s *Session) { s.Status = "Paused" }},
		{"count mismatch", func(s *Session) { s.PortCount = 5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("p", "b", "/wt", "claude", "claude", PortRange{Start: 3000, End: 3009, Count: 10})
			tt.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTouch(t *testing.T) {
	s := &Session{}
	before := time.Now().Add(-time.Second)
	s.Touch()
	if s.LastActivity == nil || s.LastActivity.Before(before) {
		t.Errorf("Touch did not set a recent timestamp: %v", s.LastActivity)
	}
}

func TestParseTerminalType(t *testing.T) {
	tests := []struct {
		in      string
		want    TerminalType
		wantErr bool
	}{
		{"", "", false},
		{"iterm", TerminalITerm, false},
		{"iterm2", TerminalITerm, false},
		{"ITerm", TerminalITerm, false},
		{"terminal_app", TerminalTerminalApp, false},
		{"ghostty", TerminalGhostty, false},
		{"native", TerminalNative, false},
		{"kitty", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTerminalType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTerminalType(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTerminalType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
