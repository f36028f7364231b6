package protocol

import "errors"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Lobby routing/state.
	ErrLobbyBusy    = "E_LOBBY_BUSY"
	ErrLobbyClosed  = "E_LOBBY_CLOSED"
	ErrUnknownGroup = "E_UNKNOWN_GROUP"
	ErrUnknownPeer  = "E_UNKNOWN_PEER"
	ErrSlowConsumer = "E_SLOW_CONSUMER"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrLobbyBusy:       {},
	ErrLobbyClosed:     {},
	ErrUnknownGroup:    {},
	ErrUnknownPeer:     {},
	ErrSlowConsumer:    {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrGroup        = errors.New("unknown group")
)
