package gateway

import "testing"

func TestEventSubjectEncodesDirection(t *testing.T) {
	got := eventSubject(EventInsert, 7, 12)
	if got != "messages.insert.7.12" {
		t.Errorf("unexpected subject %q", got)
	}
	got = eventSubject(EventUpdate, 12, 7)
	if got != "messages.update.12.7" {
		t.Errorf("unexpected subject %q", got)
	}
}

func TestFilterSubjectWildcardsZeroFields(t *testing.T) {
	cases := []struct {
		name   string
		filter EventFilter
		want   string
	}{
		{"inbound inserts", EventFilter{Type: EventInsert, ReceiverID: 7}, "messages.insert.*.7"},
		{"outbound updates", EventFilter{Type: EventUpdate, SenderID: 7}, "messages.update.7.*"},
		{"exact pair", EventFilter{Type: EventInsert, SenderID: 7, ReceiverID: 12}, "messages.insert.7.12"},
		{"everything of a type", EventFilter{Type: EventUpdate}, "messages.update.*.*"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := filterSubject(tc.filter); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFilterSubjectMatchesEventSubject(t *testing.T) {
	// A fully-specified filter must subscribe to the exact subject events
	// for that pair are published on.
	filter := EventFilter{Type: EventInsert, SenderID: 3, ReceiverID: 9}
	if filterSubject(filter) != eventSubject(EventInsert, 3, 9) {
		t.Error("fully-specified filter subject diverges from publish subject")
	}
}
