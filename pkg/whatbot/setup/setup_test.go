package setup

import (
	"context"
	"errors"
	"testing"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
)

type fakeDirectory struct {
	chats     []channels.Chat
	err       error
	lastLimit int
}

func (f *fakeDirectory) SelfName(context.Context) (string, error) { return "Me", nil }
func (f *fakeDirectory) ContactName(context.Context, string) (string, error) { return "", nil }
func (f *fakeDirectory) Chats(_ context.Context, limit int) ([]channels.Chat, error) {
	f.lastLimit = limit
	return f.chats, f.err
}

type fakePrompter struct {
	answers Answers
	err     error
	offered []channels.Chat
	deflt   string
}

func (f *fakePrompter) Ask(_ context.Context, def string, chats []channels.Chat) (Answers, error) {
	f.deflt = def
	f.offered = chats
	return f.answers, f.err
}

func chatsN(n int) []channels.Chat {
	out := make([]channels.Chat, n)
	for i := range out {
		out[i] = channels.Chat{ID: string(rune('a' + i)), Name: "Chat " + string(rune('A'+i))}
	}
	return out
}

func TestValidateSelection(t *testing.T) {
	if err := ValidateSelection(nil); !errors.Is(err, ErrNoContacts) {
		t.Errorf("expected ErrNoContacts for empty selection, got %v", err)
	}
	if err := ValidateSelection([]string{"a"}); err != nil {
		t.Errorf("expected single selection to be accepted, got %v", err)
	}
}

func TestRunCommitsSelection(t *testing.T) {
	dir := &fakeDirectory{chats: chatsN(8)}
	p := &fakePrompter{answers: Answers{Personality: "Custom.", ContactIDs: []string{"b", "c"}}}

	s, err := Run(context.Background(), dir, p, "Default.", 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.lastLimit != 6 {
		t.Errorf("expected chats limit 6, got %d", dir.lastLimit)
	}
	if len(p.offered) != 6 {
		t.Errorf("expected at most 6 chats offered, got %d", len(p.offered))
	}
	if p.deflt != "Default." {
		t.Errorf("expected default personality to be pre-filled, got %q", p.deflt)
	}
	if s.Personality() != "Custom." {
		t.Errorf("unexpected personality %q", s.Personality())
	}
	if !s.Allows("b") || !s.Allows("c") || s.Allows("a") {
		t.Error("unexpected contact set")
	}
}

func TestRunPersonality(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"empty falls back to default", "", "Default."},
		{"answer kept verbatim", "  You are terse.\n", "  You are terse.\n"},
		{"whitespace is an answer", "   ", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePrompter{answers: Answers{Personality: tt.answer, ContactIDs: []string{"a"}}}

			s, err := Run(context.Background(), &fakeDirectory{chats: chatsN(1)}, p, "Default.", 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Personality() != tt.want {
				t.Errorf("expected personality %q, got %q", tt.want, s.Personality())
			}
		})
	}
}

func TestRunFailuresLeaveBotInert(t *testing.T) {
	tests := []struct {
		name string
		dir  *fakeDirectory
		p    *fakePrompter
	}{
		{"no contacts selected", &fakeDirectory{chats: chatsN(2)}, &fakePrompter{answers: Answers{Personality: "x"}}},
		{"prompter error", &fakeDirectory{chats: chatsN(2)}, &fakePrompter{err: errors.New("tty closed")}},
		{"chat listing error", &fakeDirectory{err: errors.New("offline")}, &fakePrompter{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Run(context.Background(), tt.dir, tt.p, "Default.", 6)
			if err == nil {
				t.Fatal("expected error")
			}
			if s.ContactCount() != 0 || s.Allows("a") {
				t.Error("expected settings that allow nobody")
			}
		})
	}
}
