package chat

import "testing"

func TestVisible(t *testing.T) {
	msgs := []Message{
		{ID: "1", From: "Ann", To: Broadcast},
		{ID: "2", From: "Bob", To: "Carl"},
		{ID: "3", From: "Carl", To: "Bob"},
	}

	cases := []struct {
		name  string
		user  string
		limit int
		want  []string
	}{
		{"broadcast only", "Ann", 0, []string{"1"}},
		{"sender and recipient", "Bob", 0, []string{"1", "2", "3"}},
		{"recipient", "Carl", 0, []string{"1", "2", "3"}},
		{"stranger", "Dan", 0, []string{"1"}},
		{"limit keeps latest", "Bob", 2, []string{"2", "3"}},
		{"limit above size", "Bob", 10, []string{"1", "2", "3"}},
		{"negative limit", "Bob", -3, []string{"1", "2", "3"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Visible(msgs, tc.user, tc.limit)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d messages, got %d", len(tc.want), len(got))
			}
			for i, m := range got {
				if m.ID != tc.want[i] {
					t.Errorf("index %d: expected %q, got %q", i, tc.want[i], m.ID)
				}
			}
		})
	}
}

func TestEventVisibleTo(t *testing.T) {
	joined := Event{Type: EventParticipantJoined, Participant: &Participant{Name: "Ann"}}
	if !joined.VisibleTo("Zed") {
		t.Error("participant events should be visible to everyone")
	}

	private := Event{Type: EventMessageCreated, Message: &Message{From: "Bob", To: "Carl", Kind: KindPrivate}}
	if private.VisibleTo("Ann") {
		t.Error("private message event leaked to a third party")
	}
	if !private.VisibleTo("Carl") || !private.VisibleTo("Bob") {
		t.Error("private message event should reach sender and recipient")
	}
}
