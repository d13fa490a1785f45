package command

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/altinn/process-engine/internal/models"
)

// The wire format is a self-describing JSON object with an explicit
// "type" discriminator. The same dispatch table drives serialization
// and execution, so a command kind unknown to one is unknown to both.

// Marshal encodes a command into its self-describing JSON form.
func Marshal(c models.Command) ([]byte, error) {
	kind, err := kindOf(c)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal %s command: %w", kind, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("reshape %s command: %w", kind, err)
	}
	fields["type"] = json.RawMessage(strconv.Quote(kind))
	return json.Marshal(fields)
}

// Unmarshal decodes a self-describing JSON command.
func Unmarshal(data []byte) (models.Command, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode command envelope: %w", err)
	}
	switch head.Type {
	case KindApp:
		var c App
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode app command: %w", err)
		}
		if c.Key == "" {
			return nil, fmt.Errorf("app command: commandKey is required")
		}
		return c, nil
	case KindWebhook:
		var c Webhook
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode webhook command: %w", err)
		}
		if c.URL == "" {
			return nil, fmt.Errorf("webhook command: uri is required")
		}
		return c, nil
	case KindTimeout:
		var c Timeout
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode timeout command: %w", err)
		}
		return c, nil
	case KindNoop:
		return Noop{}, nil
	case KindThrow:
		return Throw{}, nil
	case KindDelegate:
		// The live action cannot round-trip; the restored delegate
		// fails loudly when executed.
		return Delegate{}, nil
	case "":
		return nil, fmt.Errorf("command envelope missing type discriminator")
	default:
		return nil, fmt.Errorf("unknown command type %q", head.Type)
	}
}

func kindOf(c models.Command) (string, error) {
	switch c.(type) {
	case App:
		return KindApp, nil
	case Webhook:
		return KindWebhook, nil
	case Timeout:
		return KindTimeout, nil
	case Noop:
		return KindNoop, nil
	case Throw:
		return KindThrow, nil
	case Delegate:
		return KindDelegate, nil
	default:
		return "", fmt.Errorf("unsupported command type %T", c)
	}
}
