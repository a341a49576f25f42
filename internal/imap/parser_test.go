package imap

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantTag string
		wantCmd string
		wantArg []string
	}{
		{"simple login", `a LOGIN alice pw`, "a", "LOGIN", []string{"alice", "pw"}},
		{"quoted password", `a LOGIN alice "my pw"`, "a", "LOGIN", []string{"alice", "my pw"}},
		{"uid fetch", `d UID FETCH 1:* (UID FLAGS)`, "d", "UID", []string{"FETCH", "1:*", "(UID FLAGS)"}},
		{"no args", `c NOOP`, "c", "NOOP", nil},
		{"list", `b LIST "" "*"`, "b", "LIST", []string{"", "*"}},
		{"lowercased command", `a login alice pw`, "a", "LOGIN", []string{"alice", "pw"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			if err != nil {
				t.Fatalf("ParseCommand(%q) error = %v", tt.line, err)
			}
			if got.Tag != tt.wantTag || got.Command != tt.wantCmd {
				t.Errorf("ParseCommand(%q) = {%q %q}, want {%q %q}", tt.line, got.Tag, got.Command, tt.wantTag, tt.wantCmd)
			}
			if len(got.Args) != len(tt.wantArg) {
				t.Fatalf("ParseCommand(%q) args = %v, want %v", tt.line, got.Args, tt.wantArg)
			}
			for i := range got.Args {
				if got.Args[i] != tt.wantArg[i] {
					t.Errorf("ParseCommand(%q) args[%d] = %q, want %q", tt.line, i, got.Args[i], tt.wantArg[i])
				}
			}
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []string{
		"",
		"a",
		`a LOGIN "unterminated`,
		`a LOGIN (unbalanced`,
	}
	for _, line := range tests {
		if _, err := ParseCommand(line); err == nil {
			t.Errorf("ParseCommand(%q) expected error, got nil", line)
		}
	}
}

func TestParseUIDRange(t *testing.T) {
	tests := []struct {
		set     string
		wantErr bool
		want    UIDRange
	}{
		{"5", false, UIDRange{Lo: 5, Hi: 5}},
		{"2:9", false, UIDRange{Lo: 2, Hi: 9}},
		{"1:*", false, UIDRange{Lo: 1, HiIsMax: true}},
		{"", true, UIDRange{}},
		{"abc", true, UIDRange{}},
		{"1:abc", true, UIDRange{}},
	}

	for _, tt := range tests {
		t.Run(tt.set, func(t *testing.T) {
			got, err := ParseUIDRange(tt.set)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseUIDRange(%q) expected error", tt.set)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUIDRange(%q) error = %v", tt.set, err)
			}
			if got != tt.want {
				t.Errorf("ParseUIDRange(%q) = %+v, want %+v", tt.set, got, tt.want)
			}
		})
	}
}

func TestUIDRangeContains(t *testing.T) {
	r, err := ParseUIDRange("1:*")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Contains(9, 9) {
		t.Error("expected 9 to be contained when highest=9")
	}
	if r.Contains(10, 9) {
		t.Error("expected 10 to not be contained when highest=9")
	}

	empty, err := ParseUIDRange("5:2")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Contains(3, 10) {
		t.Error("expected a>b range to contain nothing")
	}
}
