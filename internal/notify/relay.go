// Package notify turns push payloads into user-facing notification
// descriptors and routes notification actions back to the host page.
// Push delivery is at-most-once and best-effort: malformed or empty
// payloads are dropped silently, never surfaced to the sender.
package notify

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
)

// Action identifies a notification button press.
type Action string

const (
	ActionOpen    Action = "open"
	ActionDismiss Action = "dismiss"
)

// Descriptor is the ephemeral notification shown to the user; it is never
// persisted anywhere.
type Descriptor struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Actions []Action `json:"actions"`
}

// Intent is a navigation instruction routed back to the host page.
type Intent struct {
	Action    Action `json:"action"`
	TargetURL string `json:"target_url"`
}

// pushPayload mirrors the JSON shape delivered by the push collaborator.
type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Relay materializes notifications and routes their actions.
type Relay struct {
	logger  *logrus.Logger
	rootURL string
}

// NewRelay binds the relay to the dashboard root URL used by open intents.
func NewRelay(logger *logrus.Logger, rootURL string) *Relay {
	return &Relay{logger: logger, rootURL: rootURL}
}

// OnPush parses a push payload into a Descriptor. Empty or malformed
// payloads return ok=false and are only noted at debug level.
func (r *Relay) OnPush(payload []byte) (*Descriptor, bool) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		r.dropped("empty payload")
		return nil, false
	}

	var parsed pushPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		r.dropped(err.Error())
		return nil, false
	}
	if parsed.Title == "" && parsed.Body == "" {
		r.dropped("payload carries neither title nor body")
		return nil, false
	}

	title := parsed.Title
	if title == "" {
		title = "Score Hub"
	}

	return &Descriptor{
		Title:   title,
		Body:    parsed.Body,
		Actions: []Action{ActionOpen, ActionDismiss},
	}, true
}

// OnAction routes a notification action. Open yields an intent pointing at
// the dashboard root; dismiss is a no-op beyond closing the notification,
// and unknown actions are treated like dismiss.
func (r *Relay) OnAction(action Action) (*Intent, bool) {
	if action != ActionOpen {
		return nil, false
	}
	return &Intent{Action: ActionOpen, TargetURL: r.rootURL}, true
}

func (r *Relay) dropped(reason string) {
	r.logger.WithFields(logrus.Fields{
		"action": "push_dropped",
		"reason": reason,
	}).Debug("push payload ignored")
}
