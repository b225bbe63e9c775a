package adapter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Framing identifies how a backend frames its stdout.
type Framing int

const (
	// FramingEnvelope is a single JSON object carrying the text in a named field.
	FramingEnvelope Framing = iota
	// FramingEvents is newline-delimited JSON event records.
	FramingEvents
	// FramingText is raw unstructured text.
	FramingText
)

func (f Framing) String() string {
	switch f {
	case FramingEnvelope:
		return "envelope"
	case FramingEvents:
		return "events"
	default:
		return "text"
	}
}

// Decoded is the normalized content of one backend's stdout.
type Decoded struct {
	Framing Framing
	Text    string
	Usage   *Usage
	CostUSD *float64
}

// envelopeTextFields are checked in order for the result text.
var envelopeTextFields = []string{"result", "content", "response"}

// Decode interprets stdout under the given framing. Output that does not parse
// under that framing degrades to FramingText. An error is returned only when
// the output parses and explicitly reports a backend-side failure.
func Decode(framing Framing, stdout []byte) (Decoded, error) {
	switch framing {
	case FramingEnvelope:
		if out, ok, err := decodeEnvelope(stdout); ok || err != nil {
			return out, err
		}
	case FramingEvents:
		if out, ok, err := decodeEvents(stdout); ok || err != nil {
			return out, err
		}
	}
	return Decoded{Framing: FramingText, Text: strings.TrimSpace(string(stdout))}, nil
}

type envelopeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type envelopeError struct {
	Message string `json:"message"`
}

func decodeEnvelope(stdout []byte) (Decoded, bool, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Decoded{}, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Decoded{}, false, nil
	}

	out := Decoded{Framing: FramingEnvelope}
	found := false
	for _, key := range envelopeTextFields {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			out.Text = strings.TrimSpace(text)
			found = true
			break
		}
	}

	var isError bool
	if raw, ok := fields["is_error"]; ok {
		_ = json.Unmarshal(raw, &isError)
	}
	if raw, ok := fields["error"]; ok && !found {
		var e envelopeError
		if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
			return out, true, errors.New(e.Message)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return out, true, errors.New(s)
		}
	}
	if isError {
		msg := out.Text
		if msg == "" {
			msg = "backend reported an error"
		}
		return out, true, errors.New(msg)
	}
	if !found {
		return Decoded{}, false, nil
	}

	if raw, ok := fields["usage"]; ok {
		var u envelopeUsage
		if err := json.Unmarshal(raw, &u); err == nil && (u.InputTokens > 0 || u.OutputTokens > 0) {
			out.Usage = &Usage{
				PromptTokens:     u.InputTokens,
				CompletionTokens: u.OutputTokens,
				TotalTokens:      u.InputTokens + u.OutputTokens,
			}
		}
	}
	if raw, ok := fields["total_cost_usd"]; ok {
		var cost float64
		if err := json.Unmarshal(raw, &cost); err == nil {
			out.CostUSD = &cost
		}
	}
	return out, true, nil
}

// streamEvent covers the event shapes emitted by event-stream backends:
//
//	{"type":"item.completed","item":{"type":"agent_message","text":"..."}}
//	{"msg":{"type":"agent_message","message":"..."}}
//	{"type":"turn.completed","usage":{"input_tokens":1,"output_tokens":2}}
//	{"type":"turn.failed","error":{"message":"..."}}
type streamEvent struct {
	Type string `json:"type"`
	Item *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item,omitempty"`
	Msg *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"msg,omitempty"`
	Message string          `json:"message,omitempty"`
	Usage   *envelopeUsage  `json:"usage,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func decodeEvents(stdout []byte) (Decoded, bool, error) {
	out := Decoded{Framing: FramingEvents}
	parsedAny := false
	var lastErr string

	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		parsedAny = true

		switch {
		case ev.Item != nil && ev.Type == "item.completed" && isAgentMessage(ev.Item.Type):
			out.Text = strings.TrimSpace(ev.Item.Text)
		case ev.Msg != nil && isAgentMessage(ev.Msg.Type):
			out.Text = strings.TrimSpace(ev.Msg.Message)
		case ev.Type == "turn.completed" && ev.Usage != nil:
			out.Usage = &Usage{
				PromptTokens:     ev.Usage.InputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      ev.Usage.InputTokens + ev.Usage.OutputTokens,
			}
		case ev.Type == "error" || ev.Type == "turn.failed":
			lastErr = eventErrorMessage(ev)
		}
	}

	if !parsedAny {
		return Decoded{}, false, nil
	}
	if out.Text == "" && lastErr != "" {
		return out, true, errors.New(lastErr)
	}
	return out, true, nil
}

func isAgentMessage(kind string) bool {
	return kind == "agent_message" || kind == "assistant_message"
}

func eventErrorMessage(ev streamEvent) string {
	if ev.Message != "" {
		return ev.Message
	}
	if len(ev.Error) > 0 {
		var e envelopeError
		if err := json.Unmarshal(ev.Error, &e); err == nil && e.Message != "" {
			return e.Message
		}
		var s string
		if err := json.Unmarshal(ev.Error, &s); err == nil && s != "" {
			return s
		}
	}
	return "backend reported an error event"
}
