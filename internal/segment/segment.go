// Package segment splits raw chat transcripts into discrete message
// records. Segmentation is a pure function of its input: no session
// state, no I/O.
package segment

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTranscriptBytes caps the accepted transcript size.
const MaxTranscriptBytes = 16 << 20 // 16MB

// SegmentationError indicates malformed input that prevents any message
// from being produced. Per-line oddities never raise it; only
// transcript-level problems do.
type SegmentationError struct {
	Reason string
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segment: %s", e.Reason)
}

// Message is one segmented conversational turn. Sender and Timestamp are
// populated only when the line carries WhatsApp export metadata.
type Message struct {
	Index     int        `json:"index"`
	RawText   string     `json:"raw_text"`
	Sender    string     `json:"sender,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// whatsappLine matches WhatsApp export lines of the form
// "[02/05/2024, 9:14 PM] Alice: Studio available ...".
var whatsappLine = regexp.MustCompile(`^\[([^\]]+)\]\s*([^:]+):\s*(.*)$`)

// timestampLayouts are tried in order against the bracketed prefix.
// WhatsApp exports differ by locale and device.
var timestampLayouts = []string{
	"1/2/2006, 3:04 PM",
	"1/2/06, 3:04 PM",
	"02/01/2006, 15:04",
	"2/1/06, 15:04",
	"2006-01-02 15:04",
}

// Segment splits a raw transcript into ordered messages, one per
// non-blank line. Blank lines are dropped; indexes refer to the position
// among the kept messages. An empty transcript yields an empty slice and
// no error.
func Segment(raw string) ([]Message, error) {
	if len(raw) > MaxTranscriptBytes {
		return nil, &SegmentationError{Reason: fmt.Sprintf("transcript exceeds %d bytes", MaxTranscriptBytes)}
	}
	if !utf8.ValidString(raw) {
		return nil, &SegmentationError{Reason: "transcript is not valid UTF-8"}
	}

	var msgs []Message
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}

		msg := Message{Index: len(msgs), RawText: line}
		if m := whatsappLine.FindStringSubmatch(line); m != nil {
			msg.Sender = strings.TrimSpace(m[2])
			msg.RawText = strings.TrimSpace(m[3])
			if ts, ok := parseTimestamp(m[1]); ok {
				msg.Timestamp = &ts
			}
			// A metadata-only line with no content is treated as blank.
			if msg.RawText == "" {
				continue
			}
			msg.Index = len(msgs)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Participants returns the distinct senders found in msgs, sorted.
func Participants(msgs []Message) []string {
	seen := make(map[string]struct{})
	for _, m := range msgs {
		if m.Sender != "" {
			seen[m.Sender] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DateRange returns the earliest and latest message timestamps, or nils
// when no message carried one.
func DateRange(msgs []Message) (first, last *time.Time) {
	for _, m := range msgs {
		if m.Timestamp == nil {
			continue
		}
		if first == nil || m.Timestamp.Before(*first) {
			t := *m.Timestamp
			first = &t
		}
		if last == nil || m.Timestamp.After(*last) {
			t := *m.Timestamp
			last = &t
		}
	}
	return first, last
}
