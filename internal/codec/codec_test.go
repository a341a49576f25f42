package codec

import (
	"strings"
	"testing"
)

func TestReadCommandSimple(t *testing.T) {
	r := NewReader(strings.NewReader("a LOGIN alice pw\r\n"), true, nil)

	cmd, err := r.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}
	if cmd != "a LOGIN alice pw" {
		t.Errorf("ReadCommand() = %q, want %q", cmd, "a LOGIN alice pw")
	}
}

func TestReadCommandStrictRejectsBareLF(t *testing.T) {
	r := NewReader(strings.NewReader("EHLO host\n"), true, nil)

	if _, err := r.ReadCommand(); err != ErrBareLF {
		t.Errorf("ReadCommand() error = %v, want ErrBareLF", err)
	}
}

func TestReadCommandLenientAllowsBareLF(t *testing.T) {
	r := NewReader(strings.NewReader("EHLO host\n"), false, nil)

	cmd, err := r.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}
	if cmd != "EHLO host" {
		t.Errorf("ReadCommand() = %q, want %q", cmd, "EHLO host")
	}
}

func TestReadCommandSynchronisingLiteral(t *testing.T) {
	var prompts int
	input := "a LOGIN {5}\r\nalice pw\r\n"
	r := NewReader(strings.NewReader(input), true, func() error {
		prompts++
		return nil
	})

	cmd, err := r.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}
	if prompts != 1 {
		t.Errorf("continuePrompt invoked %d times, want 1", prompts)
	}
	want := `a LOGIN "alice" pw`
	if cmd != want {
		t.Errorf("ReadCommand() = %q, want %q", cmd, want)
	}
}

func TestReadCommandNonSynchronisingLiteralSkipsPrompt(t *testing.T) {
	var prompts int
	input := "a LOGIN {5+}\r\nalice pw\r\n"
	r := NewReader(strings.NewReader(input), true, func() error {
		prompts++
		return nil
	})

	if _, err := r.ReadCommand(); err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}
	if prompts != 0 {
		t.Errorf("continuePrompt invoked %d times, want 0 for non-synchronising literal", prompts)
	}
}

func TestReadCommandEmptyLiteral(t *testing.T) {
	input := "a LOGIN {0}\r\n pw\r\n"
	r := NewReader(strings.NewReader(input), true, func() error { return nil })

	cmd, err := r.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}
	want := `a LOGIN "" pw`
	if cmd != want {
		t.Errorf("ReadCommand() = %q, want %q", cmd, want)
	}
}

func TestReadCommandLiteralContainingSpecialChars(t *testing.T) {
	literal := `say "hi" \ there`
	input := "a APPEND INBOX {" + itoa(len(literal)) + "}\r\n" + literal + "\r\n"
	r := NewReader(strings.NewReader(input), true, func() error { return nil })

	cmd, err := r.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand() error = %v", err)
	}
	if !strings.Contains(cmd, `\"hi\"`) || !strings.Contains(cmd, `\\`) {
		t.Errorf("ReadCommand() = %q, want escaped quotes/backslash", cmd)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestWriterAppendsCRLF(t *testing.T) {
	var sb strings.Builder
	w := NewWriter(&sb)

	if err := w.WriteLine("a OK done"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if sb.String() != "a OK done\r\n" {
		t.Errorf("output = %q, want %q", sb.String(), "a OK done\r\n")
	}
}
