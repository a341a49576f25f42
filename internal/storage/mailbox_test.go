package storage

import "testing"

func TestNormalizeFolder(t *testing.T) {
	tests := []struct {
		wire string
		want string
	}{
		{"INBOX", ""},
		{"inbox", ""},
		{"INBOX/Sent", ".Sent"},
		{"Archive/2024", ".Archive.2024"},
		{"Trash", ".Trash"},
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			if got := NormalizeFolder(tt.wire); got != tt.want {
				t.Errorf("NormalizeFolder(%q) = %q, want %q", tt.wire, got, tt.want)
			}
		})
	}
}

func TestDisplayNameRoundTrip(t *testing.T) {
	tests := []struct {
		wire string
	}{
		{"INBOX"},
		{"INBOX/Sent"},
		{"INBOX/Archive/2024"},
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			disk := NormalizeFolder(tt.wire)
			if got := DisplayName(disk); got != tt.wire {
				t.Errorf("DisplayName(NormalizeFolder(%q)) = %q, want %q", tt.wire, got, tt.wire)
			}
		})
	}
}

func TestIsTrash(t *testing.T) {
	tests := []struct {
		wire string
		want bool
	}{
		{"INBOX/Trash", true},
		{"INBOX/trash", true},
		{"INBOX/Sent", false},
		{"Trash", true},
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			if got := IsTrash(tt.wire); got != tt.want {
				t.Errorf("IsTrash(%q) = %v, want %v", tt.wire, got, tt.want)
			}
		})
	}
}
