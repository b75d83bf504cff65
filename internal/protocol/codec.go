package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError reports a frame that could not be turned into a usable
// message. Receivers log it and keep the session open.
type DecodeError struct {
	// Kind is the discriminator found in the frame, if any.
	Kind Type
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("decode message: %v", e.Err)
	}
	return fmt.Sprintf("decode %s message: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// envelope is the union of all wire fields.
type envelope struct {
	Type           Type   `json:"type"`
	Action         Action `json:"action,omitempty"`
	RepoAlias      string `json:"repoAlias,omitempty"`
	OldRepoAlias   string `json:"oldRepoAlias,omitempty"`
	RepoURL        string `json:"repoUrl,omitempty"`
	RepoURLOrAlias string `json:"repoUrlOrAlias,omitempty"`
}

// unmarshal fills env from frame. Keys must match the wire names exactly;
// encoding/json alone would also accept "TYPE" or "RepoAlias".
func (env *envelope) unmarshal(frame []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return err
	}

	for key, dst := range map[string]interface{}{
		"type":           &env.Type,
		"action":         &env.Action,
		"repoAlias":      &env.RepoAlias,
		"oldRepoAlias":   &env.OldRepoAlias,
		"repoUrl":        &env.RepoURL,
		"repoUrlOrAlias": &env.RepoURLOrAlias,
	} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}

// Encode serializes msg into a single frame. It fails only for messages that
// do not pass Validate.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var env envelope
	switch m := msg.(type) {
	case *ConfigNotification:
		env = envelope{
			Type:      TypeConfigNotification,
			Action:    m.Action,
			RepoAlias: m.Alias,
			RepoURL:   m.URL,
		}
		if m.Action == ActionUpdate {
			env.OldRepoAlias = m.OldAlias
		}
		if m.Action == ActionRemove {
			env.RepoURL = ""
		}
	case *SyncRequest:
		env = envelope{
			Type:           TypeSyncRequest,
			RepoURLOrAlias: m.AliasOrURL,
		}
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnknownType, msg)
	}

	return json.Marshal(env)
}

// Decode parses a frame. On failure it returns a *DecodeError. For a
// well-formed frame with an unrecognized discriminator it also returns an
// *Unknown message so the caller can log what was skipped.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := env.unmarshal(frame); err != nil {
		return nil, &DecodeError{Err: err}
	}

	var msg Message
	switch env.Type {
	case TypeConfigNotification:
		n := &ConfigNotification{
			Action: env.Action,
			Alias:  env.RepoAlias,
			URL:    env.RepoURL,
		}
		switch env.Action {
		case ActionUpdate:
			n.OldAlias = env.OldRepoAlias
		case ActionRemove:
			n.URL = ""
		}
		msg = n
	case TypeSyncRequest:
		msg = &SyncRequest{AliasOrURL: env.RepoURLOrAlias}
	case "":
		return nil, &DecodeError{Err: errors.New("missing type discriminator")}
	default:
		raw := make([]byte, len(frame))
		copy(raw, frame)
		return &Unknown{Kind: env.Type, Raw: raw}, &DecodeError{Kind: env.Type, Err: ErrUnknownType}
	}

	if err := msg.Validate(); err != nil {
		return nil, &DecodeError{Kind: env.Type, Err: err}
	}
	return msg, nil
}
