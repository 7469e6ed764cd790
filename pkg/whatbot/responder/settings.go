// Package responder turns inbound chat messages from selected contacts into
// completion prompts built from recent history, and sends the generated
// text back as a reply.
package responder

// Settings is the operator's per-run configuration committed once by the
// setup interaction. It is immutable after construction.
type Settings struct {
	personality string
	contacts    map[string]struct{}
}

// NewSettings builds Settings from a personality prompt and the selected
// contact identifiers.
func NewSettings(personality string, contactIDs []string) Settings {
	contacts := make(map[string]struct{}, len(contactIDs))
	for _, id := range contactIDs {
		contacts[id] = struct{}{}
	}
	return Settings{personality: personality, contacts: contacts}
}

// Personality returns the personality prompt.
func (s Settings) Personality() string { return s.personality }

// Allows reports whether id is one of the selected contacts.
func (s Settings) Allows(id string) bool {
	_, ok := s.contacts[id]
	return ok
}

// ContactCount returns how many contacts were selected.
func (s Settings) ContactCount() int { return len(s.contacts) }
