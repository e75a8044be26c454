package archive

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MessageMeta is the front matter carried by every archived message file.
// Serialized key order follows the field order here.
type MessageMeta struct {
	ID          string   `yaml:"id" json:"id"`
	ThreadID    string   `yaml:"thread_id" json:"thread_id"`
	Project     string   `yaml:"project" json:"project"`
	From        string   `yaml:"from" json:"from"`
	To          []string `yaml:"to" json:"to"`
	CC          []string `yaml:"cc,omitempty" json:"cc,omitempty"`
	Created     string   `yaml:"created" json:"created"`
	Importance  string   `yaml:"importance" json:"importance"`
	AckRequired bool     `yaml:"ack_required" json:"ack_required"`
	Subject     string   `yaml:"subject" json:"subject"`
}

// CreatedTime parses the created timestamp.
func (m MessageMeta) CreatedTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, m.Created)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created %q: %w", m.Created, err)
	}
	return t, nil
}

// Recipients returns to and cc merged, order preserved, duplicates dropped.
func (m MessageMeta) Recipients() []string {
	seen := make(map[string]bool, len(m.To)+len(m.CC))
	out := make([]string, 0, len(m.To)+len(m.CC))
	for _, name := range append(append([]string{}, m.To...), m.CC...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// RenderMessage serializes front matter plus markdown body into the
// canonical archive file format: a fenced YAML block followed by the body.
func RenderMessage(meta MessageMeta, body string) ([]byte, error) {
	fm, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}
	var b strings.Builder
	b.Grow(len(fm) + len(body) + 16)
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
	return []byte(b.String()), nil
}

// ParseMessage splits an archived message file back into front matter and
// body. Files without a leading YAML fence are rejected.
func ParseMessage(data []byte) (MessageMeta, string, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return MessageMeta{}, "", fmt.Errorf("missing front matter fence")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return MessageMeta{}, "", fmt.Errorf("unterminated front matter")
	}
	var meta MessageMeta
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &meta); err != nil {
		return MessageMeta{}, "", fmt.Errorf("parse front matter: %w", err)
	}
	body := rest[end+len("\n---"):]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	body = strings.TrimLeft(body, "\n")
	return meta, strings.TrimRight(body, "\n"), nil
}
