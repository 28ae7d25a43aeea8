package protocol

import (
	"testing"

	"golang.org/x/exp/rand"
)

func parseWhole(t *testing.T, input string) (Command, int) {
	t.Helper()
	p := NewParser()
	buf := []byte(input)
	consumed, complete, err := p.Parse(buf)
	if err != nil {
		t.Fatalf("Parse(%q): unexpected error %v", input, err)
	}
	if !complete {
		t.Fatalf("Parse(%q): expected a complete header", input)
	}
	cmd, bodyBytes, err := p.Build()
	if err != nil {
		t.Fatalf("Build(%q): %v", input, err)
	}
	if consumed != len(input) {
		t.Fatalf("Parse(%q): consumed %d, want %d", input, consumed, len(input))
	}
	return cmd, bodyBytes
}

func TestParserRecognizesEachKind(t *testing.T) {
	cases := []struct {
		input   string
		kind    Kind
		keys    []string
		bytes   int
		noreply bool
	}{
		{"set foo 0 0 3\r\n", Set, []string{"foo"}, 3, false},
		{"add foo 1 0 3\r\n", Add, []string{"foo"}, 3, false},
		{"replace foo 0 0 3 noreply\r\n", Replace, []string{"foo"}, 3, true},
		{"append foo 0 0 3\r\n", Append, []string{"foo"}, 3, false},
		{"prepend foo 0 0 3\r\n", Prepend, []string{"foo"}, 3, false},
		{"get foo\r\n", Get, []string{"foo"}, 0, false},
		{"get foo bar baz\r\n", Get, []string{"foo", "bar", "baz"}, 0, false},
		{"delete foo\r\n", Delete, []string{"foo"}, 0, false},
	}

	for _, tc := range cases {
		cmd, bodyBytes := parseWhole(t, tc.input)
		if cmd.Kind != tc.kind {
			t.Errorf("%q: kind = %v, want %v", tc.input, cmd.Kind, tc.kind)
		}
		if len(cmd.Keys) != len(tc.keys) {
			t.Fatalf("%q: keys = %v, want %v", tc.input, cmd.Keys, tc.keys)
		}
		for i := range tc.keys {
			if cmd.Keys[i] != tc.keys[i] {
				t.Errorf("%q: keys[%d] = %q, want %q", tc.input, i, cmd.Keys[i], tc.keys[i])
			}
		}
		if bodyBytes != tc.bytes {
			t.Errorf("%q: bodyBytes = %d, want %d", tc.input, bodyBytes, tc.bytes)
		}
		if cmd.NoReply != tc.noreply {
			t.Errorf("%q: NoReply = %v, want %v", tc.input, cmd.NoReply, tc.noreply)
		}
	}
}

func TestParserRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"\r\n",
		"bogus command here\r\n",
		"set foo bar baz\r\n",          // too few storage args
		"set foo 0 0 notanumber\r\n",   // bad byte count
		"set foo 0 0 3 maybe\r\n",      // trailing token that isn't noreply
		"get\r\n",                      // get needs at least one key
		"delete\r\n",                   // delete needs exactly one key
		"delete foo bar\r\n",           // delete takes exactly one key
	}
	for _, input := range cases {
		p := NewParser()
		_, _, err := p.Parse([]byte(input))
		if err == nil {
			t.Errorf("Parse(%q): expected error, got none", input)
			continue
		}
		if !IsProtocolError(err) {
			t.Errorf("Parse(%q): error %v is not a protocol error", input, err)
		}
	}
}

func TestParserInsufficientInputMakesNoProgress(t *testing.T) {
	p := NewParser()
	consumed, complete, err := p.Parse([]byte("set foo 0 0 3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if complete {
		t.Fatal("expected incomplete header without a CRLF")
	}
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0 on insufficient input", consumed)
	}
}

// TestParserAssociativityOfFeed checks spec's central law: splitting
// the same input at an arbitrary byte boundary across two Parse calls
// must be equivalent to one Parse call over the concatenation. Split
// points are chosen with golang.org/x/exp/rand from a fixed seed.
func TestParserAssociativityOfFeed(t *testing.T) {
	input := "set somewhat-long-key-name 42 100 7\r\n"
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		split := rng.Intn(len(input) + 1)
		head := []byte(input[:split])
		tail := []byte(input[split:])

		p := NewParser()
		consumed, complete, err := p.Parse(head)
		if err != nil {
			t.Fatalf("split %d: unexpected error on first half: %v", split, err)
		}
		if complete {
			// A full header was recognized from the first half alone;
			// only possible when split covers the whole input.
			if split != len(input) {
				t.Fatalf("split %d: completed early with consumed=%d", split, consumed)
			}
			continue
		}
		if consumed != 0 {
			t.Fatalf("split %d: incomplete parse must consume 0 bytes, got %d", split, consumed)
		}

		full := append(append([]byte{}, head...), tail...)
		consumed, complete, err = p.Parse(full)
		if err != nil {
			t.Fatalf("split %d: unexpected error on full buffer: %v", split, err)
		}
		if !complete {
			t.Fatalf("split %d: expected completion once the full input is presented", split)
		}
		if consumed != len(input) {
			t.Fatalf("split %d: consumed = %d, want %d", split, consumed, len(input))
		}
	}
}
