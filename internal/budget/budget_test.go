package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.SystemMessage("hello world"), // 4 overhead + 1 (role) + 2 (content) = 7
		schema.SystemMessage("hello world"),
	}
	// Estimate("system") = 1, so each message is 7.
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_TrimPassages_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	passages := []string{"first", "second", "third"}
	got := TrimPassages(passages, 10, 2, DefaultMaxContextTokens)
	if len(got) != 3 {
		t.Errorf("want 3 passages, got %d", len(got))
	}
}

func Test_TrimPassages_DropsLowestRanked(t *testing.T) {
	t.Parallel()
	// Each passage is 100 tokens; overhead 10, framing 0.
	p := strings.Repeat("x", 400)
	passages := []string{p + "1", p + "2", p + "3", p + "4"}

	got := TrimPassages(passages, 10, 0, 250)
	if len(got) != 2 {
		t.Fatalf("want 2 passages, got %d", len(got))
	}
	if !strings.HasSuffix(got[0], "1") || !strings.HasSuffix(got[1], "2") {
		t.Errorf("kept the wrong passages: %q..., %q...", got[0][len(got[0])-1:], got[1][len(got[1])-1:])
	}
}

func Test_TrimPassages_KeepsTopEvenIfOversized(t *testing.T) {
	t.Parallel()
	big := strings.Repeat("x", 4000) // 1000 tokens
	got := TrimPassages([]string{big, "small"}, 0, 0, 100)
	if len(got) != 1 || got[0] != big {
		t.Errorf("want only the top passage, got %d passages", len(got))
	}
}

func Test_TrimPassages_DisabledBudget(t *testing.T) {
	t.Parallel()
	passages := []string{strings.Repeat("x", 4000), strings.Repeat("y", 4000)}
	if got := TrimPassages(passages, 0, 0, 0); len(got) != 2 {
		t.Errorf("want trimming disabled, got %d passages", len(got))
	}
}

func Test_TrimPassages_Empty(t *testing.T) {
	t.Parallel()
	if got := TrimPassages(nil, 0, 0, 10); len(got) != 0 {
		t.Errorf("want empty, got %d", len(got))
	}
}
