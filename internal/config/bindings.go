package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/button-handler/internal/dispatch"
	"github.com/sweeney/button-handler/internal/logic"
	"github.com/sweeney/button-handler/internal/mqtt"
)

// BindingGroup is the dispatcher group holding bindings loaded from the
// config file. Reloads replace the whole group.
const BindingGroup = "config"

// BindingConfig publishes a message when an action occurs.
//
//	bindings:
//	  - name: hall-light
//	    button: 0
//	    action: DOUBLE_PRESS
//	    topic: home/hall/light/set
//	    payload: '{"state":"TOGGLE","source":"button {button}"}'
type BindingConfig struct {
	Name string `yaml:"name"`
	// Button restricts the binding to one button. Unset matches every button.
	Button *int `yaml:"button,omitempty"`
	// Action is an action label, e.g. SHORT_PRESS or 4_MULTI_PRESS.
	// MULTI_PRESS matches any multi press count.
	Action   string `yaml:"action"`
	Topic    string `yaml:"topic"`
	Payload  string `yaml:"payload,omitempty"`
	Retained bool   `yaml:"retained,omitempty"`
}

func (b BindingConfig) validate(buttons int) error {
	if b.Topic == "" {
		return errors.New("topic must not be empty")
	}
	if strings.ContainsAny(b.Topic, "+#") {
		return fmt.Errorf("topic %q must not contain wildcards", b.Topic)
	}
	if _, _, err := logic.ParseAction(b.Action); err != nil {
		return err
	}
	if b.Button != nil && (*b.Button < 0 || *b.Button >= buttons) {
		return fmt.Errorf("button %d out of range (%d configured)", *b.Button, buttons)
	}
	return nil
}

// BuildBindings builds dispatcher bindings that publish through pub.
// The config must have been validated.
func (c *Config) BuildBindings(pub mqtt.Publisher) ([]dispatch.Binding, error) {
	out := make([]dispatch.Binding, 0, len(c.Bindings))
	for i, bc := range c.Bindings {
		action, count, err := logic.ParseAction(bc.Action)
		if err != nil {
			return nil, fmt.Errorf("bindings[%d]: %w", i, err)
		}
		// Named multi presses (DOUBLE_PRESS) carry their count implicitly.
		if action != logic.ActionMultiPress {
			count = 0
		}

		name := bc.Name
		if name == "" {
			name = fmt.Sprintf("binding-%d", i)
		}
		button := dispatch.AnyButton
		if bc.Button != nil {
			button = *bc.Button
		}

		bc := bc
		out = append(out, dispatch.Binding{
			Name:   name,
			Button: button,
			Action: action,
			Count:  count,
			Callback: func(e logic.Event) error {
				payload, err := RenderPayload(bc.Payload, e)
				if err != nil {
					return err
				}
				return pub.PublishRaw(bc.Topic, payload, bc.Retained)
			},
		})
	}
	return out, nil
}

// RenderPayload expands {button}, {action}, {label}, {count} and {timestamp}
// in tmpl. An empty template yields the standard event payload.
func RenderPayload(tmpl string, e logic.Event) ([]byte, error) {
	if tmpl == "" {
		return mqtt.FormatPayload(e)
	}
	r := strings.NewReplacer(
		"{button}", strconv.Itoa(e.Button),
		"{action}", string(e.Action),
		"{label}", e.Label(),
		"{count}", strconv.Itoa(e.Count),
		"{timestamp}", e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return []byte(r.Replace(tmpl)), nil
}
