package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action is a step the model asks the bot to perform.
type Action string

const (
	ActionListServices     Action = "LIST_SERVICES"
	ActionSelectService    Action = "SELECT_SERVICE"
	ActionSelectSpecialist Action = "SELECT_SPECIALIST"
	ActionSelectTime       Action = "SELECT_TIME"
	ActionConfirmBooking   Action = "CONFIRM_BOOKING"
	ActionCancelBooking    Action = "CANCEL_BOOKING"
	ActionAnswerQuestion   Action = "ANSWER_QUESTION"
)

// Actions is the closed set of actions the bot can execute.
var Actions = []Action{
	ActionListServices,
	ActionSelectService,
	ActionSelectSpecialist,
	ActionSelectTime,
	ActionConfirmBooking,
	ActionCancelBooking,
	ActionAnswerQuestion,
}

var (
	ErrUnknownAction  = errors.New("unknown llm action")
	ErrMalformedReply = errors.New("malformed llm reply")
)

// ParseAction validates s against the closed action set.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Extracted holds the fields the model pulled out of the user's text.
type Extracted struct {
	Service    string `json:"service"`
	Specialist string `json:"specialist"`
	Time       string `json:"time"`
}

// Interpretation is a validated model reply.
type Interpretation struct {
	Action    Action
	Response  string
	Extracted Extracted
}

type rawInterpretation struct {
	Action        string    `json:"action"`
	Response      string    `json:"response"`
	ExtractedData Extracted `json:"extracted_data"`
}

// ParseInterpretation decodes a model reply, tolerating code fences around the JSON.
func ParseInterpretation(raw string) (*Interpretation, error) {
	var r rawInterpretation
	if err := decodeJSON(raw, &r); err != nil {
		return nil, err
	}
	action, err := ParseAction(r.Action)
	if err != nil {
		return nil, err
	}
	return &Interpretation{
		Action:    action,
		Response:  strings.TrimSpace(r.Response),
		Extracted: r.ExtractedData,
	}, nil
}

func decodeJSON(raw string, out any) error {
	cleaned := CleanJSON(raw)
	if cleaned == "" {
		return fmt.Errorf("%w: empty", ErrMalformedReply)
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}

// CleanJSON strips markdown fences and any prose around the outermost JSON object.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
