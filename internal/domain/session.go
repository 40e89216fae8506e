// Package domain contains entity without logic, just meta-data
package domain

import "strings"

const MaxNameLen = 64

// SessionID identifies one signaling connection for its whole lifetime.
type SessionID string

// Options is the opaque blob a client attaches to its registration.
type Options map[string]any

// User returns the "user" object that is merged into every log record of the session.
func (o Options) User() map[string]any {
	u, _ := o["user"].(map[string]any)
	return u
}

// RecorderURI returns opts.recorder.uri if present.
func (o Options) RecorderURI() string {
	rec, _ := o["recorder"].(map[string]any)
	uri, _ := rec["uri"].(string)
	return uri
}

// Session is one registered, named participant connection.
type Session struct {
	ID         SessionID `json:"id"`
	Name       string    `json:"name"`
	CalleeHint string    `json:"callee,omitempty"`
	Opts       Options   `json:"-"`

	Peer      string `json:"peer,omitempty"`
	SDPOffer  string `json:"-"`
	Bandwidth int    `json:"bandwidth,omitempty"`
}

// NewSession is a tiny helper to avoid ad-hoc struct literals in the orchestrator.
func NewSession(id SessionID, name, calleeHint string, opts Options) (*Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	if opts == nil {
		opts = Options{}
	}
	return &Session{ID: id, Name: name, CalleeHint: calleeHint, Opts: opts}, nil
}

// SetPendingCall records what the caller asked for until the callee answers.
func (s *Session) SetPendingCall(peer, offer string, bandwidth int) {
	s.Peer = peer
	s.SDPOffer = offer
	s.Bandwidth = bandwidth
}

func (s *Session) SetPeer(name string) { s.Peer = name }

func (s *Session) ClearPeer() { s.Peer = "" }
