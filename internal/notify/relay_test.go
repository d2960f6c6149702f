package notify

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestRelay() *Relay {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRelay(logger, "http://localhost:5000/")
}

func TestOnPushMaterializesDescriptor(t *testing.T) {
	relay := newTestRelay()

	desc, ok := relay.OnPush([]byte(`{"title":"New high score","body":"A reached 10 points"}`))
	if !ok {
		t.Fatalf("expected descriptor")
	}
	if desc.Title != "New high score" || desc.Body != "A reached 10 points" {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if len(desc.Actions) != 2 || desc.Actions[0] != ActionOpen || desc.Actions[1] != ActionDismiss {
		t.Fatalf("expected open/dismiss actions, got %v", desc.Actions)
	}
}

func TestOnPushDefaultsTitle(t *testing.T) {
	relay := newTestRelay()

	desc, ok := relay.OnPush([]byte(`{"body":"scores refreshed"}`))
	if !ok {
		t.Fatalf("expected descriptor")
	}
	if desc.Title != "Score Hub" {
		t.Fatalf("expected default title, got %q", desc.Title)
	}
}

func TestOnPushDropsBadPayloads(t *testing.T) {
	relay := newTestRelay()

	cases := []struct {
		name    string
		payload string
	}{
		{"empty string", ""},
		{"whitespace only", "   "},
		{"not json", "ping"},
		{"truncated json", `{"title":"x`},
		{"empty object", `{}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if desc, ok := relay.OnPush([]byte(tc.payload)); ok || desc != nil {
				t.Fatalf("expected silent drop, got %+v", desc)
			}
		})
	}
}

func TestOnActionRoutesOpen(t *testing.T) {
	relay := newTestRelay()

	intent, ok := relay.OnAction(ActionOpen)
	if !ok {
		t.Fatalf("expected routed intent")
	}
	if intent.TargetURL != "http://localhost:5000/" {
		t.Fatalf("unexpected target: %s", intent.TargetURL)
	}
}

func TestOnActionDismissIsNoop(t *testing.T) {
	relay := newTestRelay()

	if intent, ok := relay.OnAction(ActionDismiss); ok || intent != nil {
		t.Fatalf("dismiss must not route, got %+v", intent)
	}
	if intent, ok := relay.OnAction(Action("unknown")); ok || intent != nil {
		t.Fatalf("unknown action must not route, got %+v", intent)
	}
}
