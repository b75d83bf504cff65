// Package protocol defines the messages exchanged between notesync peers.
//
// Messages travel as JSON text frames. Every frame carries a string
// discriminator in its "type" field which selects the message shape:
//
//	{"type":"CONFIG_REPO","action":"ADD","repoAlias":"work","repoUrl":"https://..."}
//	{"type":"REQUEST_SYNC","repoUrlOrAlias":"work"}
//
// Frames never carry access tokens. Nothing in this package has a field for
// one, and unknown fields in inbound frames are ignored.
package protocol

import (
	"errors"
	"fmt"
)

// Type is the discriminator of a message.
type Type string

const (
	TypeConfigNotification Type = "CONFIG_REPO"
	TypeSyncRequest        Type = "REQUEST_SYNC"
)

// Action is the change a ConfigNotification describes.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionRemove Action = "REMOVE"
	ActionUpdate Action = "UPDATE"
)

var (
	// ErrUnknownType is returned when a frame's discriminator is not one this
	// node understands.
	ErrUnknownType = errors.New("unknown message type")
	// ErrInvalidMessage is returned when a message violates the invariants of
	// its shape.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is implemented by every message shape. The set of shapes is closed;
// use a type switch to tell them apart.
type Message interface {
	// Type returns the wire discriminator.
	Type() Type
	// Validate checks the invariants of the shape.
	Validate() error

	isMessage()
}

// ConfigNotification propagates an ADD, REMOVE or UPDATE of a repository
// configuration entry.
type ConfigNotification struct {
	Action Action
	// Alias is the entry's alias; for UPDATE it is the new alias.
	Alias string
	// OldAlias is only set for UPDATE.
	OldAlias string
	// URL is the git remote. Required for ADD, optional for UPDATE and
	// ignored for REMOVE.
	URL string
}

func (*ConfigNotification) isMessage() {}

// Type implements Message.
func (*ConfigNotification) Type() Type { return TypeConfigNotification }

// Validate implements Message.
func (n *ConfigNotification) Validate() error {
	switch n.Action {
	case ActionAdd:
		if n.Alias == "" || n.URL == "" {
			return fmt.Errorf("%w: ADD requires alias and url", ErrInvalidMessage)
		}
	case ActionRemove:
		if n.Alias == "" {
			return fmt.Errorf("%w: REMOVE requires alias", ErrInvalidMessage)
		}
	case ActionUpdate:
		if n.OldAlias == "" || n.Alias == "" {
			return fmt.Errorf("%w: UPDATE requires old and new alias", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidMessage, n.Action)
	}
	return nil
}

func (n *ConfigNotification) String() string {
	if n.Action == ActionUpdate {
		return fmt.Sprintf("ConfigNotification{%s %q->%q url=%q}", n.Action, n.OldAlias, n.Alias, n.URL)
	}
	return fmt.Sprintf("ConfigNotification{%s %q url=%q}", n.Action, n.Alias, n.URL)
}

// SyncRequest asks a peer to pull the latest content of a repository,
// identified by alias or by git URL.
type SyncRequest struct {
	AliasOrURL string
}

func (*SyncRequest) isMessage() {}

// Type implements Message.
func (*SyncRequest) Type() Type { return TypeSyncRequest }

// Validate implements Message.
func (r *SyncRequest) Validate() error {
	if r.AliasOrURL == "" {
		return fmt.Errorf("%w: sync request requires an alias or url", ErrInvalidMessage)
	}
	return nil
}

func (r *SyncRequest) String() string {
	return fmt.Sprintf("SyncRequest{%q}", r.AliasOrURL)
}

// Unknown is what Decode yields for a well-formed frame whose discriminator is
// not recognized. Newer peers may send types older ones do not know; the
// receiver drops them without tearing down the session.
type Unknown struct {
	Kind Type
	Raw  []byte
}

func (*Unknown) isMessage() {}

// Type implements Message.
func (u *Unknown) Type() Type { return u.Kind }

// Validate implements Message. An unknown message is never valid.
func (u *Unknown) Validate() error {
	return fmt.Errorf("%w: %q", ErrUnknownType, u.Kind)
}
