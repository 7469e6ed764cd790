// Package setup runs the one-time interaction that picks the personality
// prompt and the contacts the bot answers.
package setup

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
	"github.com/jholhewres/whatbot/pkg/whatbot/responder"
)

// DefaultChatChoices is how many recent chats are offered for selection.
const DefaultChatChoices = 6

// ErrNoContacts is returned when the operator confirms with nothing selected.
var ErrNoContacts = errors.New("you must choose at least one contact")

// Answers is what the operator entered.
type Answers struct {
	Personality string
	ContactIDs  []string
}

// Prompter asks the operator for the personality and contact selection.
type Prompter interface {
	Ask(ctx context.Context, defaultPersonality string, chats []channels.Chat) (Answers, error)
}

// ValidateSelection rejects an empty contact selection.
func ValidateSelection(ids []string) error {
	if len(ids) == 0 {
		return ErrNoContacts
	}
	return nil
}

// Run fetches up to limit chats, asks the operator and returns the
// committed settings. On any error the returned settings allow nobody.
func Run(ctx context.Context, dir channels.Directory, p Prompter, defaultPersonality string, limit int) (responder.Settings, error) {
	if limit <= 0 {
		limit = DefaultChatChoices
	}

	chats, err := dir.Chats(ctx, limit)
	if err != nil {
		return responder.Settings{}, fmt.Errorf("listing chats: %w", err)
	}
	if len(chats) > limit {
		chats = chats[:limit]
	}

	answers, err := p.Ask(ctx, defaultPersonality, chats)
	if err != nil {
		return responder.Settings{}, err
	}
	if err := ValidateSelection(answers.ContactIDs); err != nil {
		return responder.Settings{}, err
	}

	// The answer is committed verbatim; only an empty one falls back.
	personality := answers.Personality
	if personality == "" {
		personality = defaultPersonality
	}
	return responder.NewSettings(personality, answers.ContactIDs), nil
}

// HuhPrompter asks through an interactive terminal form.
type HuhPrompter struct{}

// Ask implements Prompter.
func (HuhPrompter) Ask(ctx context.Context, defaultPersonality string, chats []channels.Chat) (Answers, error) {
	answers := Answers{Personality: defaultPersonality}

	options := make([]huh.Option[string], 0, len(chats))
	for _, c := range chats {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		options = append(options, huh.NewOption(name, c.ID))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter a prompt to define the AI's personality:").
				Value(&answers.Personality),
			huh.NewMultiSelect[string]().
				Title("Select contacts:").
				Options(options...).
				Value(&answers.ContactIDs).
				Validate(ValidateSelection),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return Answers{}, fmt.Errorf("setup aborted: %w", err)
		}
		return Answers{}, err
	}
	return answers, nil
}
