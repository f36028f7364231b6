package protocol

import (
	"encoding/json"
	"fmt"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Lobby           string `json:"lobby"`
	Nickname        string `json:"nickname"`
	// PeerID is set when reconnecting so the lobby keeps the same identity.
	PeerID string `json:"peer_id,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	PeerID          string    `json:"peer_id"`
	Lobby           string    `json:"lobby"`
	Peers           []PeerRef `json:"peers"`
}

type PeerRef struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// PEER_JOINED / PEER_LEFT (server -> client)
type PeerMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Peer            PeerRef `json:"peer"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

// SYNC carries one message group. From is stamped by the server; To addresses a
// single peer and is empty for broadcasts.
type SyncMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Group           string          `json:"group"`
	From            string          `json:"from,omitempty"`
	To              string          `json:"to,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// NewSync builds a SYNC message with payload encoded as JSON.
func NewSync(group string, payload any) (SyncMsg, error) {
	m := SyncMsg{Type: TypeSync, ProtocolVersion: Version, Group: group}
	if payload == nil {
		return m, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return SyncMsg{}, fmt.Errorf("encode %s payload: %w", group, err)
	}
	m.Payload = b
	return m, nil
}

// Decode unmarshals the payload into v.
func (m SyncMsg) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: %w", m.Group, ErrEmptyPayload)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Group, err)
	}
	return nil
}

func NewPeerMsg(typ string, p PeerRef) PeerMsg {
	return PeerMsg{Type: typ, ProtocolVersion: Version, Peer: p}
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
