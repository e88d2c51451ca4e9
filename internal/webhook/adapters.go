package webhook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loomcms/gatehouse/internal/event"
)

// jsonAdapter emits the stable generic envelope. This is the only body a
// receiver can verify against the signature header.
type jsonAdapter struct{}

type jsonEnvelope struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

func (jsonAdapter) Adapt(ev event.Event) ([]byte, error) {
	env := jsonEnvelope{
		Event:     ev.Name,
		Data:      ev.Payload,
		Timestamp: ev.OccurredAt.UTC().Format(time.RFC3339),
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return json.Marshal(env)
}

func (jsonAdapter) SignatureRequired() bool { return true }

// discordAdapter restructures the event into Discord's webhook message
// shape: a content line plus one embed with the payload flattened into
// fields. Discord caps embeds at 25 fields; we stay well under.
type discordAdapter struct{}

const maxEmbedFields = 10

type discordMessage struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Fields    []discordField `json:"fields,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (discordAdapter) Adapt(ev event.Event) ([]byte, error) {
	fields := make([]discordField, 0, len(ev.Payload))
	for _, k := range sortedKeys(ev.Payload) {
		if len(fields) == maxEmbedFields {
			break
		}
		fields = append(fields, discordField{
			Name:   k,
			Value:  stringify(ev.Payload[k]),
			Inline: true,
		})
	}

	msg := discordMessage{
		Content: humanizeEventName(ev.Name),
		Embeds: []discordEmbed{{
			Title:     ev.Name,
			Fields:    fields,
			Timestamp: ev.OccurredAt.UTC().Format(time.RFC3339),
		}},
	}
	return json.Marshal(msg)
}

func (discordAdapter) SignatureRequired() bool { return false }

// slackAdapter restructures the event into Slack's {text, blocks} shape.
type slackAdapter struct{}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (slackAdapter) Adapt(ev event.Event) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*", humanizeEventName(ev.Name))
	for _, k := range sortedKeys(ev.Payload) {
		fmt.Fprintf(&b, "\n%s: %s", k, stringify(ev.Payload[k]))
	}

	msg := slackMessage{
		Text: humanizeEventName(ev.Name),
		Blocks: []slackBlock{{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: b.String()},
		}},
	}
	return json.Marshal(msg)
}

func (slackAdapter) SignatureRequired() bool { return false }

// humanizeEventName turns "post.published" into "Post published".
func humanizeEventName(name string) string {
	s := strings.ReplaceAll(name, ".", " ")
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
