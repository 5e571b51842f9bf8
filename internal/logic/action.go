package logic

import (
	"fmt"
	"strconv"
	"strings"
)

const multiPressSuffix = "_MULTI_PRESS"

// ActionForCount returns the action for a settled sequence of count short presses.
func ActionForCount(count int) Action {
	switch {
	case count <= 1:
		return ActionShortPress
	case count == 2:
		return ActionDoublePress
	case count == 3:
		return ActionTriplePress
	default:
		return ActionMultiPress
	}
}

// ParseAction parses a label into an action and the press count it implies.
// Besides the plain action names it accepts "<n>_MULTI_PRESS", normalised so
// that 1 is a short press, 2 a double and 3 a triple. MULTI_PRESS on its own
// returns a count of 0, meaning any multi press.
func ParseAction(label string) (Action, int, error) {
	switch Action(label) {
	case ActionShortPress:
		return ActionShortPress, 1, nil
	case ActionLongPress:
		return ActionLongPress, 1, nil
	case ActionHold:
		return ActionHold, 1, nil
	case ActionDoublePress:
		return ActionDoublePress, 2, nil
	case ActionTriplePress:
		return ActionTriplePress, 3, nil
	case ActionMultiPress:
		return ActionMultiPress, 0, nil
	}

	prefix, ok := strings.CutSuffix(label, multiPressSuffix)
	if !ok || prefix == "" {
		return "", 0, fmt.Errorf("invalid action: %q", label)
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return "", 0, fmt.Errorf("invalid action: %q", label)
		}
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("invalid action: %q", label)
	}
	return ActionForCount(n), n, nil
}
