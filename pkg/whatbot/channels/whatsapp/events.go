package whatsapp

import (
	"fmt"
	"sort"
	"strings"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/whatbot/pkg/whatbot/channels"
	"github.com/jholhewres/whatbot/pkg/whatbot/history"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt, true, "")

	case *events.HistorySync:
		w.handleHistorySync(evt)

	case *events.PairSuccess:
		w.logger.Info("device paired", "jid", evt.ID, "platform", evt.Platform)
		w.emit(channels.Event{Type: channels.EventAuthenticated})

	case *events.Connected:
		w.connected.Store(true)
		w.logger.Info("connected", "jid", w.ownJID())
		w.emit(channels.Event{Type: channels.EventAuthenticated})
		w.emit(channels.Event{Type: channels.EventReady})

	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("disconnected, waiting for automatic reconnect")

	case *events.LoggedOut:
		w.connected.Store(false)
		reason := "logged out"
		if evt.Reason != 0 {
			reason = "logged out: " + evt.Reason.String()
		}
		w.logger.Error("logged out", "reason", reason, "on_connect", evt.OnConnect)
		w.emit(channels.Event{Type: channels.EventAuthFailure, Reason: reason})

	case *events.TemporaryBan:
		w.connected.Store(false)
		w.logger.Error("temporary ban", "code", evt.Code, "expire", evt.Expire)
		w.emit(channels.Event{
			Type:   channels.EventAuthFailure,
			Reason: fmt.Sprintf("temporary ban (%s), expires in %s", evt.Code, evt.Expire),
		})

	case *events.ConnectFailure:
		permanent := evt.PermanentDisconnectDescription()
		w.logger.Error("connect failure",
			"reason", evt.Reason, "message", evt.Message, "permanent", permanent)
		if permanent != "" {
			w.connected.Store(false)
			w.emit(channels.Event{Type: channels.EventAuthFailure, Reason: permanent})
		}

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("stream replaced, another client connected with this session")

	case *events.PushName:
		w.logger.Debug("push name update", "jid", evt.JID, "name", evt.NewPushName)
	}
}

// handleMessageEvt records a text message and, when live and addressed to
// us, emits it as EventMessage. groupName is the group subject when known
// (history sync carries it, live events do not).
func (w *WhatsApp) handleMessageEvt(evt *events.Message, live bool, groupName string) {
	// Status broadcasts.
	if evt.Info.Chat.Server == types.BroadcastServer {
		return
	}

	body := messageText(evt.Message)
	if body == "" {
		return
	}

	sender := w.resolveLID(evt.Info.Sender)
	chat := w.resolveLID(evt.Info.Chat)
	if evt.Info.IsFromMe {
		sender = w.ownJID()
	}

	chatName := ""
	switch {
	case evt.Info.IsGroup:
		chatName = groupName
	case !evt.Info.IsFromMe:
		chatName = evt.Info.PushName
	}

	w.record(history.Entry{
		ChatID:   chat,
		ChatName: chatName,
		HistoryMessage: channels.HistoryMessage{
			ID:     string(evt.Info.ID),
			Sender: sender,
			Body:   body,
			FromMe: evt.Info.IsFromMe,
			SentAt: evt.Info.Timestamp,
		},
	})

	if !live || evt.Info.IsFromMe {
		return
	}
	if evt.Info.IsGroup && !w.cfg.RespondToGroups {
		return
	}

	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      sender,
		FromName:  evt.Info.PushName,
		ChatID:    chat,
		IsGroup:   evt.Info.IsGroup,
		Content:   body,
		Timestamp: evt.Info.Timestamp,
	}
	// Groups are selected and answered as a whole.
	if evt.Info.IsGroup {
		msg.From = chat
		msg.Participant = sender
	}

	w.emit(channels.Event{
		Type:      channels.EventMessage,
		Message:   msg,
		Timestamp: evt.Info.Timestamp,
	})
}

// handleHistorySync seeds the history recorder with the conversations the
// phone pushes right after pairing.
func (w *WhatsApp) handleHistorySync(evt *events.HistorySync) {
	if w.client == nil || evt.Data == nil {
		return
	}

	count := 0
	for _, conv := range evt.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		groupName := ""
		if chatJID.Server == types.GroupServer {
			groupName = conv.GetName()
		}
		for _, hsm := range conv.GetMessages() {
			parsed, err := w.client.ParseWebMessage(chatJID, hsm.GetMessage())
			if err != nil {
				continue
			}
			w.handleMessageEvt(parsed, false, groupName)
			count++
		}
	}
	w.logger.Debug("history sync ingested",
		"type", evt.Data.GetSyncType().String(), "messages", count)
}

// resolveLID maps a LID (linked identity) JID to the phone-number JID when
// the device store knows the mapping, and drops the device part.
func (w *WhatsApp) resolveLID(jid types.JID) string {
	if jid.Server == types.HiddenUserServer && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, jid); err == nil && !alt.IsEmpty() {
			return alt.ToNonAD().String()
		}
	}
	return jid.ToNonAD().String()
}

// ---------- Helpers ----------

// messageText extracts the text body of a message, or "" for non-text.
func messageText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	switch {
	case m.Conversation != nil:
		return m.GetConversation()
	case m.ExtendedTextMessage != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.ImageMessage != nil:
		return m.GetImageMessage().GetCaption()
	case m.VideoMessage != nil:
		return m.GetVideoMessage().GetCaption()
	case m.DocumentMessage != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

// buildTextMessage creates a plain text message.
func buildTextMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

// contactName picks the shortest useful name from the address book entry.
func contactName(info types.ContactInfo) string {
	switch {
	case info.FirstName != "":
		return info.FirstName
	case info.FullName != "":
		return info.FullName
	case info.PushName != "":
		return info.PushName
	}
	return ""
}

// fillFromContacts appends address book entries not already present until
// limit chats are collected. Contacts are ordered by name for a stable list.
func fillFromContacts(chats []channels.Chat, seen map[string]bool, contacts map[types.JID]types.ContactInfo, limit int) []channels.Chat {
	extra := make([]channels.Chat, 0, len(contacts))
	for jid, info := range contacts {
		if jid.Server != types.DefaultUserServer {
			continue
		}
		id := jid.ToNonAD().String()
		if seen[id] {
			continue
		}
		name := info.FullName
		if name == "" {
			name = contactName(info)
		}
		if name == "" {
			continue
		}
		extra = append(extra, channels.Chat{ID: id, Name: name})
	}
	sort.Slice(extra, func(i, j int) bool {
		if extra[i].Name != extra[j].Name {
			return extra[i].Name < extra[j].Name
		}
		return extra[i].ID < extra[j].ID
	})

	for _, c := range extra {
		if len(chats) >= limit {
			break
		}
		chats = append(chats, c)
	}
	return chats
}

// selectableChats drops group chats unless groups are answered and
// truncates to limit.
func selectableChats(chats []channels.Chat, groups bool, limit int) []channels.Chat {
	if limit <= 0 {
		return nil
	}
	out := make([]channels.Chat, 0, min(len(chats), limit))
	for _, c := range chats {
		if len(out) == limit {
			break
		}
		if !groups && strings.HasSuffix(c.ID, "@"+types.GroupServer) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// parseJID converts a string JID to types.JID.
// Accepts formats: "5511999999999" or "5511999999999@s.whatsapp.net"
// or group IDs like "123456789-1234@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	// Bare phone number.
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
