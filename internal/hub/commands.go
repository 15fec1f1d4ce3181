package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ent0n29/iris/internal/notification"
)

// Kind is the discriminator of an inbound hub command.
type Kind string

const (
	KindCall              Kind = "call"
	KindNotify            Kind = "notify"
	KindClearNotification Kind = "clear-notification"
	KindReplay            Kind = "replay"

	// kindUnNotify is accepted as an alias of KindClearNotification.
	kindUnNotify Kind = "unNotify"
)

var ErrInvalidCommand = errors.New("invalid hub command")

type CallPayload struct {
	Text     string                `json:"text"`
	Actions  []notification.Action `json:"actions"`
	Language string                `json:"language,omitempty"`
}

type NotifyPayload struct {
	ID           string                `json:"id"`
	Title        string                `json:"title"`
	Icon         string                `json:"icon"`
	Text         string                `json:"text"`
	Actions      []notification.Action `json:"actions"`
	Channel      string                `json:"channel,omitempty"`
	Priority     string                `json:"priority,omitempty"`
	IsPersistent bool                  `json:"isPersistent"`
	IsSticky     bool                  `json:"isSticky"`
}

type ClearPayload struct {
	ID string `json:"id"`
}

type ReplayPayload struct {
	ID string `json:"id,omitempty"`
}

// Command is a validated inbound command. Exactly one payload field is set,
// matching Kind; Replay may be nil.
type Command struct {
	Kind   Kind
	Target string
	Call   *CallPayload
	Notify *NotifyPayload
	Clear  *ClearPayload
	Replay *ReplayPayload
}

// Notification converts a notify payload into the store representation.
func (c Command) Notification() notification.Notification {
	if c.Notify == nil {
		return notification.Notification{Target: c.Target}
	}
	p := c.Notify
	return notification.Notification{
		ID:           p.ID,
		Target:       c.Target,
		Title:        p.Title,
		Icon:         p.Icon,
		Text:         p.Text,
		Actions:      p.Actions,
		Channel:      p.Channel,
		Priority:     p.Priority,
		IsPersistent: p.IsPersistent,
		IsSticky:     p.IsSticky,
	}
}

type callCommand struct {
	Command string      `json:"command"`
	Target  string      `json:"target"`
	Payload CallPayload `json:"payload"`
}

type notifyCommand struct {
	Command string        `json:"command"`
	Target  string        `json:"target"`
	Payload NotifyPayload `json:"payload"`
}

type clearCommand struct {
	Command string       `json:"command"`
	Target  string       `json:"target"`
	Payload ClearPayload `json:"payload"`
}

type replayCommand struct {
	Command string         `json:"command"`
	Target  string         `json:"target"`
	Payload *ReplayPayload `json:"payload,omitempty"`
}

type commandSchemas map[Kind]*jsonschema.Resolved

var schemas = mustCompileSchemas()

func mustCompileSchemas() commandSchemas {
	out, err := compileSchemas()
	if err != nil {
		panic(err)
	}
	return out
}

func compileSchemas() (commandSchemas, error) {
	out := commandSchemas{}
	add := func(kind Kind, infer func() (*jsonschema.Schema, error), arrays ...string) error {
		s, err := infer()
		if err != nil {
			return fmt.Errorf("infer %s schema: %w", kind, err)
		}
		for _, name := range arrays {
			if err := requireArray(s, "payload", name); err != nil {
				return fmt.Errorf("%s schema: %w", kind, err)
			}
		}
		resolved, err := s.Resolve(nil)
		if err != nil {
			return fmt.Errorf("resolve %s schema: %w", kind, err)
		}
		out[kind] = resolved
		return nil
	}
	if err := add(KindCall, forType[callCommand], "actions"); err != nil {
		return nil, err
	}
	if err := add(KindNotify, forType[notifyCommand], "actions"); err != nil {
		return nil, err
	}
	if err := add(KindClearNotification, forType[clearCommand]); err != nil {
		return nil, err
	}
	if err := add(KindReplay, forType[replayCommand]); err != nil {
		return nil, err
	}
	return out, nil
}

func forType[T any]() (*jsonschema.Schema, error) {
	return jsonschema.For[T](&jsonschema.ForOptions{})
}

// requireArray narrows the Go slice at path from array-or-null to array.
func requireArray(s *jsonschema.Schema, path ...string) error {
	for _, name := range path {
		next, ok := s.Properties[name]
		if !ok || next == nil {
			return fmt.Errorf("no property %q", name)
		}
		s = next
	}
	s.Type = "array"
	s.Types = nil
	return nil
}

// parseCommand decodes raw, validates it against the schema selected by its
// command tag and returns the typed command.
func parseCommand(raw []byte) (Command, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	obj, ok := instance.(map[string]any)
	if !ok {
		return Command{}, fmt.Errorf("%w: expected a JSON object", ErrInvalidCommand)
	}
	tag, _ := obj["command"].(string)
	kind := Kind(tag)
	if kind == kindUnNotify {
		kind = KindClearNotification
	}
	schema, ok := schemas[kind]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, tag)
	}
	if err := schema.Validate(instance); err != nil {
		return Command{}, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, tag, err)
	}

	cmd := Command{Kind: kind}
	var err error
	switch kind {
	case KindCall:
		var c callCommand
		err = json.Unmarshal(raw, &c)
		cmd.Target, cmd.Call = c.Target, &c.Payload
	case KindNotify:
		var c notifyCommand
		err = json.Unmarshal(raw, &c)
		cmd.Target, cmd.Notify = c.Target, &c.Payload
	case KindClearNotification:
		var c clearCommand
		err = json.Unmarshal(raw, &c)
		cmd.Target, cmd.Clear = c.Target, &c.Payload
	case KindReplay:
		var c replayCommand
		err = json.Unmarshal(raw, &c)
		cmd.Target, cmd.Replay = c.Target, c.Payload
	}
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return cmd, nil
}
