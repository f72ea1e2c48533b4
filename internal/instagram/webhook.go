package instagram

import (
	"encoding/json"
	"regexp"
	"strings"
)

type EventType string

const (
	EventComment EventType = "comment"
	EventDM      EventType = "dm"
)

// Event is one trigger pulled out of a webhook delivery.
type Event struct {
	Type      EventType
	TriggerID string
	ReelID    string
	UserID    string
	Username  string
	Text      string
}

// Complete reports whether the event carries everything needed to queue a DM.
func (e Event) Complete() bool {
	return e.TriggerID != "" && e.ReelID != "" && e.UserID != "" && e.Username != "" && e.Text != ""
}

type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string      `json:"id"`
	Changes   []Change    `json:"changes"`
	Messaging []Messaging `json:"messaging"`
}

type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type commentValue struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
	From struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
}

type Messaging struct {
	Sender struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

var reelRe = regexp.MustCompile(`/reels?/([A-Za-z0-9_-]{1,64})`)

// ExtractReelID returns the first reel shortcode linked in s, or "".
func ExtractReelID(s string) string {
	m := reelRe.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Events flattens a webhook delivery into triggers. Events missing fields
// are still returned; callers check Complete.
func (p Payload) Events() []Event {
	var out []Event
	for _, entry := range p.Entry {
		for _, ch := range entry.Changes {
			switch ch.Field {
			case "comments":
				var v commentValue
				if err := json.Unmarshal(ch.Value, &v); err != nil {
					continue
				}
				out = append(out, Event{
					Type:      EventComment,
					TriggerID: v.ID,
					ReelID:    v.Media.ID,
					UserID:    v.From.ID,
					Username:  v.From.Username,
					Text:      strings.TrimSpace(v.Text),
				})
			case "messages":
				var m Messaging
				if err := json.Unmarshal(ch.Value, &m); err != nil {
					continue
				}
				if ev, ok := dmEvent(m); ok {
					out = append(out, ev)
				}
			}
		}
		for _, m := range entry.Messaging {
			if ev, ok := dmEvent(m); ok {
				out = append(out, ev)
			}
		}
	}
	return out
}

func dmEvent(m Messaging) (Event, bool) {
	if m.Message == nil || m.Message.IsEcho {
		return Event{}, false
	}

	reelID := ExtractReelID(m.Message.Text)
	for _, a := range m.Message.Attachments {
		if reelID != "" {
			break
		}
		reelID = ExtractReelID(a.Payload.URL)
	}

	text := strings.TrimSpace(m.Message.Text)
	if text == "" && reelID != "" {
		text = "/reel/" + reelID
	}

	username := m.Sender.Username
	if username == "" {
		username = m.Sender.ID
	}

	return Event{
		Type:      EventDM,
		TriggerID: m.Message.MID,
		ReelID:    reelID,
		UserID:    m.Sender.ID,
		Username:  username,
		Text:      text,
	}, true
}
