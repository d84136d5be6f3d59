package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/knowyouranimal/kya/internal/catalog"
	"github.com/knowyouranimal/kya/internal/kya"
	"github.com/knowyouranimal/kya/internal/kya/chat"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "********"},
		{"AIzaSyD-1234567890abcd", "AIza...abcd"},
		{"ssm:/kya/gemini-key", "ssm:/kya/gemini-key"},
	}
	for _, tt := range tests {
		if got := maskToken(tt.in); got != tt.want {
			t.Errorf("maskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local), false},
		{"2024-12", time.Date(2024, 12, 1, 0, 0, 0, 0, time.Local), false},
		{"2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local), false},
		{"15/03/2024", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Dairy   cattle\nraised for milk", 60); got != "Dairy cattle raised for milk" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("गाय एक पालतू पशु है", 5); got != "गाय …" {
		t.Errorf("truncate() = %q, want %q", got, "गाय …")
	}
}

func TestAnimalMarkdown(t *testing.T) {
	cow := catalog.Animal{
		Slug:        "cow",
		Name:        "Cow",
		NameHi:      "गाय",
		Description: "Dairy cattle",
		Diseases: []catalog.Disease{{
			ID:         "d1",
			Name:       "Foot and Mouth Disease",
			NameHi:     "खुरपका-मुंहपका",
			Symptoms:   []string{"Fever", "Blisters"},
			Treatment:  "Supportive care",
			Prevention: []string{"Vaccination"},
		}},
	}

	en := animalMarkdown(cow, "en")
	for _, want := range []string{"# Cow\n", "## Common diseases (1)", "### Foot and Mouth Disease", "- Fever\n- Blisters\n", "**Treatment:** Supportive care", "- Vaccination"} {
		if !strings.Contains(en, want) {
			t.Errorf("animalMarkdown(en) missing %q:\n%s", want, en)
		}
	}
	if strings.Contains(en, "Causes") {
		t.Errorf("animalMarkdown(en) shows empty causes:\n%s", en)
	}

	hi := animalMarkdown(cow, "hi")
	if !strings.Contains(hi, "# गाय\n") || !strings.Contains(hi, "### खुरपका-मुंहपका") {
		t.Errorf("animalMarkdown(hi) did not use Hindi names:\n%s", hi)
	}

	empty := animalMarkdown(catalog.Animal{Name: "Duck"}, "en")
	if empty != "# Duck\n\nNo diseases recorded.\n" {
		t.Errorf("animalMarkdown() = %q", empty)
	}
}

func TestReplyPrinter(t *testing.T) {
	user := kya.Message{Role: kya.RoleUser, Content: "My cow has fever"}

	t.Run("streamed reply", func(t *testing.T) {
		var buf bytes.Buffer
		p, err := newReplyPrinter(&buf, false)
		if err != nil {
			t.Fatal(err)
		}
		p.prefix = "A> "
		p.onChange(chat.Snapshot{State: chat.Sending})
		p.onChange(chat.Snapshot{State: chat.Streaming, Delta: "Keep her "})
		p.onChange(chat.Snapshot{State: chat.Streaming, Delta: "warm."})
		p.finish(chat.Snapshot{Messages: []kya.Message{user, {Role: kya.RoleAssistant, Content: "Keep her warm."}}})

		if got, want := buf.String(), "A> Keep her warm.\n"; got != want {
			t.Errorf("output = %q, want %q", got, want)
		}
	})

	t.Run("failure after partial reply", func(t *testing.T) {
		var buf bytes.Buffer
		p, _ := newReplyPrinter(&buf, false)
		p.onChange(chat.Snapshot{State: chat.Streaming, Delta: "Keep the calf "})
		p.finish(chat.Snapshot{Messages: []kya.Message{user, {Role: kya.RoleAssistant, Content: "Keep the calf " + kya.FailureMessage}}})

		if got, want := buf.String(), "Keep the calf "+kya.FailureMessage+"\n"; got != want {
			t.Errorf("output = %q, want %q", got, want)
		}
	})

	t.Run("failure without reply", func(t *testing.T) {
		var buf bytes.Buffer
		p, _ := newReplyPrinter(&buf, false)
		p.prefix = "A> "
		p.onChange(chat.Snapshot{State: chat.Sending})
		p.onChange(chat.Snapshot{State: chat.Idle})
		p.finish(chat.Snapshot{Messages: []kya.Message{user, {Role: kya.RoleAssistant, Content: kya.FailureMessage}}})

		if got, want := buf.String(), "A> "+kya.FailureMessage+"\n"; got != want {
			t.Errorf("output = %q, want %q", got, want)
		}
	})

	t.Run("turns do not leak into each other", func(t *testing.T) {
		var buf bytes.Buffer
		p, _ := newReplyPrinter(&buf, false)
		p.onChange(chat.Snapshot{Delta: "one"})
		p.finish(chat.Snapshot{Messages: []kya.Message{{Role: kya.RoleAssistant, Content: "one"}}})
		p.onChange(chat.Snapshot{Delta: "two"})
		p.finish(chat.Snapshot{Messages: []kya.Message{{Role: kya.RoleAssistant, Content: "two"}}})

		if got, want := buf.String(), "one\ntwo\n"; got != want {
			t.Errorf("output = %q, want %q", got, want)
		}
	})
}

func TestLastReply(t *testing.T) {
	if got := lastReply(nil); got != "" {
		t.Errorf("lastReply(nil) = %q", got)
	}
	msgs := []kya.Message{{Role: kya.RoleAssistant, Content: "hi"}, {Role: kya.RoleUser, Content: "q"}}
	if got := lastReply(msgs); got != "" {
		t.Errorf("lastReply() = %q, want empty when the last message is from the user", got)
	}
	if got := lastReply(msgs[:1]); got != "hi" {
		t.Errorf("lastReply() = %q, want %q", got, "hi")
	}
}

func TestMessageSummary(t *testing.T) {
	tests := []struct {
		msgs []kya.Message
		want string
	}{
		{nil, "0 (0 questions)"},
		{[]kya.Message{{Role: kya.RoleUser, Content: "q"}}, "1 (1 question)"},
		{[]kya.Message{
			{Role: kya.RoleUser, Content: "q1"},
			{Role: kya.RoleAssistant, Content: "a1"},
			{Role: kya.RoleUser, Content: "q2"},
		}, "3 (2 questions)"},
	}
	for _, tt := range tests {
		if got := messageSummary(tt.msgs); got != tt.want {
			t.Errorf("messageSummary(%v) = %q, want %q", tt.msgs, got, tt.want)
		}
	}
}
