package utils

import "testing"

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain segment",
			input:    "CS101",
			expected: "CS101",
		},
		{
			name:     "forward slash",
			input:    "GEK1/GEM2",
			expected: "GEK1_GEM2",
		},
		{
			name:     "backslash",
			input:    "notes\\week1",
			expected: "notes_week1",
		},
		{
			name:     "parent traversal",
			input:    "..",
			expected: "_",
		},
		{
			name:     "surrounding whitespace",
			input:    "  Lecture Notes ",
			expected: "Lecture Notes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeSegment(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeSegment(%q) = %q; want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected string
	}{
		{
			name:     "module and file",
			input:    []string{"CS101", "x.pdf"},
			expected: "/CS101/x.pdf",
		},
		{
			name:     "nested folders",
			input:    []string{"CS101", "Lectures", "Week 1", "intro.pdf"},
			expected: "/CS101/Lectures/Week 1/intro.pdf",
		},
		{
			name:     "empty segments dropped",
			input:    []string{"CS101", "", "x.pdf"},
			expected: "/CS101/x.pdf",
		},
		{
			name:     "slash in module code",
			input:    []string{"GEK1/GEM2", "x.pdf"},
			expected: "/GEK1_GEM2/x.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := JoinPath(tt.input...)
			if result != tt.expected {
				t.Errorf("JoinPath(%v) = %q; want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIsIgnoredFile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		ignored bool
	}{
		{name: "office backup", input: "~$report.docx", ignored: true},
		{name: "libreoffice lock", input: ".~lock.notes.odt#", ignored: true},
		{name: "editor backup suffix", input: "draft.txt~", ignored: true},
		{name: "regular pdf", input: "x.pdf", ignored: false},
		{name: "tilde inside name", input: "a~b.pdf", ignored: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIgnoredFile(tt.input); got != tt.ignored {
				t.Errorf("IsIgnoredFile(%q) = %v; want %v", tt.input, got, tt.ignored)
			}
		})
	}
}
