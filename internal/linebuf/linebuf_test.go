package linebuf

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

// split is the reference: reassemble everything, split once.
func split(input string) []string {
	parts := strings.Split(input, "\n")
	lines := parts[:len(parts)-1]
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, strings.TrimSuffix(l, "\r"))
	}
	return out
}

func feed(chunks []string) ([]string, string) {
	var r Reassembler
	var got []string
	for _, c := range chunks {
		r.Write([]byte(c))
		got = append(got, r.Lines()...)
	}
	return got, string(r.Pending())
}

func TestSingleChunk(t *testing.T) {
	got, rest := feed([]string{"hello\nworld\n"})
	if !reflect.DeepEqual(got, []string{"hello", "world"}) {
		t.Fatalf("unexpected lines %q", got)
	}
	if rest != "" {
		t.Fatalf("unexpected pending %q", rest)
	}
}

func TestCarriageReturnStripped(t *testing.T) {
	got, _ := feed([]string{"hello\r\n"})
	if !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("unexpected lines %q", got)
	}
	got, _ = feed([]string{"\r\n"})
	if !reflect.DeepEqual(got, []string{""}) {
		t.Fatalf("expected a lone CR to become empty, got %q", got)
	}
}

func TestEmptyLinesPreserved(t *testing.T) {
	got, _ := feed([]string{"a\n\nb\n"})
	if !reflect.DeepEqual(got, []string{"a", "", "b"}) {
		t.Fatalf("unexpected lines %q", got)
	}
}

func TestTrailingPartialStaysBuffered(t *testing.T) {
	got, rest := feed([]string{"first\nsec", "ond par"})
	if !reflect.DeepEqual(got, []string{"first"}) {
		t.Fatalf("unexpected lines %q", got)
	}
	if rest != "second par" {
		t.Fatalf("unexpected pending %q", rest)
	}

	var r Reassembler
	r.Write([]byte("no newline yet"))
	if lines := r.Lines(); len(lines) != 0 {
		t.Fatalf("partial line emitted: %q", lines)
	}
	r.Write([]byte("\n"))
	if lines := r.Lines(); !reflect.DeepEqual(lines, []string{"no newline yet"}) {
		t.Fatalf("unexpected completion %q", lines)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", r.Len())
	}
}

func TestSplitExactlyOnNewline(t *testing.T) {
	got, rest := feed([]string{"one\n", "two\n", "\n", "three\r", "\n"})
	if !reflect.DeepEqual(got, []string{"one", "two", "", "three"}) {
		t.Fatalf("unexpected lines %q", got)
	}
	if rest != "" {
		t.Fatalf("unexpected pending %q", rest)
	}
}

func TestByteAtATime(t *testing.T) {
	input := "你好世界\r\nsecond line\n\nthird"
	var chunks []string
	for i := 0; i < len(input); i++ {
		chunks = append(chunks, input[i:i+1])
	}
	got, rest := feed(chunks)
	if !reflect.DeepEqual(got, split(input)) {
		t.Fatalf("got %q want %q", got, split(input))
	}
	if rest != "third" {
		t.Fatalf("unexpected pending %q", rest)
	}
}

func TestFragmentationIsTransparent(t *testing.T) {
	input := "alpha\nbeta\r\n\n\r\ngamma delta\nεψιλον\n\n\nzeta\r\ntrailing"
	want := split(input)
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var chunks []string
		for rest := input; len(rest) > 0; {
			n := 1 + rng.Intn(8)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got, pending := feed(chunks)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round %d chunks %q: got %q want %q", round, chunks, got, want)
		}
		if pending != "trailing" {
			t.Fatalf("round %d: unexpected pending %q", round, pending)
		}
	}
}

func TestReset(t *testing.T) {
	var r Reassembler
	r.Write([]byte("partial"))
	r.Reset()
	r.Write([]byte("x\n"))
	if lines := r.Lines(); !reflect.DeepEqual(lines, []string{"x"}) {
		t.Fatalf("unexpected lines after reset %q", lines)
	}
}
