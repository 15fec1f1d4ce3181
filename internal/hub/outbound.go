package hub

import "github.com/ent0n29/iris/internal/notification"

// Outbound command kinds.
const (
	OutNotify      = "notify"
	OutUnNotify    = "unNotify"
	OutCallService = "call-service"
	OutCallState   = "callState"
)

type unNotifyPayload struct {
	Target string `json:"target"`
	ID     string `json:"id"`
}

type callServicePayload struct {
	Action string             `json:"action"`
	Data   callServiceMessage `json:"data"`
}

type callServiceMessage struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type commandActivity struct {
	IntentAction      string `json:"intent_action"`
	IntentURI         string `json:"intent_uri"`
	IntentPackageName string `json:"intent_package_name"`
	Priority          string `json:"priority"`
	TTL               int    `json:"ttl"`
}

type clearNotification struct {
	Tag      string `json:"tag"`
	Priority string `json:"priority"`
	TTL      int    `json:"ttl"`
}

// CallStateUpdate reports call progress back to the hub.
type CallStateUpdate struct {
	CallID string `json:"callId"`
	Target string `json:"target"`
	State  string `json:"state"`
	Text   string `json:"text,omitempty"`
	Digit  string `json:"digit,omitempty"`
	Action string `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Notify implements notification.Notifier.
func (r *Router) Notify(n notification.Notification) error {
	return r.Send(OutNotify, n)
}

// UnNotify implements notification.Notifier.
func (r *Router) UnNotify(target, id string) error {
	return r.Send(OutUnNotify, unNotifyPayload{Target: target, ID: id})
}

// TriggerCall asks the companion app on target to open the call at url.
func (r *Router) TriggerCall(target, url string) error {
	return r.Send(OutCallService, callServicePayload{
		Action: target,
		Data: callServiceMessage{
			Message: "command_activity",
			Data: commandActivity{
				IntentAction:      "android.intent.action.VIEW",
				IntentURI:         r.intentURI + "?url=" + url,
				IntentPackageName: r.intentPackage,
				Priority:          "high",
				TTL:               0,
			},
		},
	})
}

// ClearNotification removes the mobile notification tagged tag on target.
func (r *Router) ClearNotification(target, tag string) error {
	return r.Send(OutCallService, callServicePayload{
		Action: target,
		Data: callServiceMessage{
			Message: "clear_notification",
			Data:    clearNotification{Tag: tag, Priority: "high", TTL: 0},
		},
	})
}

func (r *Router) CallState(u CallStateUpdate) error {
	return r.Send(OutCallState, u)
}
