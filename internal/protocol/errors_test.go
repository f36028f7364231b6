package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrLobbyBusy,
		ErrLobbyClosed,
		ErrUnknownGroup,
		ErrUnknownPeer,
		ErrSlowConsumer,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestGroupInfo(t *testing.T) {
	if g, ok := LookupGroup(GroupSyncPuppet); !ok || g.Reliable {
		t.Fatalf("puppet poses travel unreliably: %+v ok=%v", g, ok)
	}
	if g, ok := LookupGroup(GroupSyncJiggyFlags); !ok || !g.Reliable || !g.Persist {
		t.Fatalf("jiggy flags: %+v ok=%v", g, ok)
	}
	if IsKnownGroup("SyncBananas") {
		t.Fatalf("unexpected group accepted")
	}
}
