package responder

import (
	"strings"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
)

// ContainsVerbatim reports whether candidateBody already appears anywhere
// in promptSoFar. It is a plain substring test: a short body that happens
// to be part of longer text already in the prompt is treated as present,
// and an empty body is always present.
func ContainsVerbatim(promptSoFar, candidateBody string) bool {
	return strings.Contains(promptSoFar, candidateBody)
}

// OperatorLabel is the speaker label used for the operator's own lines.
func OperatorLabel(operatorName string) string {
	return "Me (" + operatorName + ")"
}

// BuildPrompt assembles the completion prompt for a conversation with
// contactName. History lines are labeled with contactName when their
// sender is contactID and with the operator label otherwise; lines whose
// body is already contained in the prompt are skipped. The prompt ends
// with the operator cue and no trailing newline.
func BuildPrompt(personality, contactID, contactName, operatorName string, history []channels.HistoryMessage) string {
	var b strings.Builder
	b.WriteString(personality)
	b.WriteString(" Below are some of my conversations with my friend ")
	b.WriteString(contactName)
	b.WriteString(".\n\n")

	me := OperatorLabel(operatorName)
	for _, item := range history {
		if ContainsVerbatim(b.String(), item.Body) {
			continue
		}
		speaker := me
		if item.Sender == contactID {
			speaker = contactName
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(item.Body)
		b.WriteString("\n")
	}

	b.WriteString(me)
	b.WriteString(":")
	return b.String()
}

// FirstName returns the text before the first space of name.
func FirstName(name string) string {
	first, _, _ := strings.Cut(name, " ")
	return first
}
