package protocol_test

import (
	"encoding/json"
	"testing"

	"bkonline.net/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	validate := func(raw string) {
		t.Helper()
		if err := v.Validate([]byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", raw, err)
		}
	}
	reject := func(raw string) {
		t.Helper()
		if err := v.Validate([]byte(raw)); err == nil {
			t.Fatalf("expected rejection: %s", raw)
		}
	}

	validate(`{"type":"HELLO","protocol_version":"1.0","lobby":"main","nickname":"banjo"}`)
	validate(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "peer_id":"p1",
	  "lobby":"main",
	  "peers":[{"id":"p2","nickname":"kazooie"}]
	}`)
	validate(`{"type":"PEER_LEFT","protocol_version":"1.0","peer":{"id":"p2","nickname":"kazooie"}}`)
	validate(`{"type":"ERROR","protocol_version":"1.0","code":"E_LOBBY_BUSY","message":"full"}`)
	validate(`{"type":"SYNC","protocol_version":"1.0","group":"SyncJiggyFlags","payload":{"value":"AQID"}}`)
	validate(`{"type":"SYNC","protocol_version":"1.0","group":"SyncJinjos","payload":{"level":1,"value":31}}`)
	validate(`{"type":"SYNC","protocol_version":"1.0","group":"Request_Storage"}`)
	validate(`{
	  "type":"SYNC","protocol_version":"1.0","group":"SyncPuppet",
	  "payload":{"pose":{"pos":[1,2,3],"rot":[0,0.5,0],"anim":{"frame":2,"id":7},"model":1,"scale":1065353216}}
	}`)

	reject(`{"type":"HELLO","protocol_version":"1.0","lobby":"","nickname":"banjo"}`)
	reject(`{"type":"SYNC","protocol_version":"1.0","group":"SyncBananas"}`)
	reject(`{"type":"SYNC","protocol_version":"1.0","group":"SyncJinjos","payload":{"level":300,"value":1}}`)
	reject(`{"type":"SYNC","protocol_version":"1.0","group":"SyncMoves"}`)
	reject(`{"type":"NOPE"}`)
	reject(`[1,2,3]`)
}

func TestSyncEncodeDecode(t *testing.T) {
	m, err := protocol.NewSync(protocol.GroupSyncVoxelNotes, protocol.VoxelNotesPayload{Level: 3, Scene: 0x0b, Notes: []int64{7, 9}})
	if err != nil {
		t.Fatalf("new sync: %v", err)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	if err := v.Validate(raw); err != nil {
		t.Fatalf("own encoding rejected: %v", err)
	}

	var back protocol.SyncMsg
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var p protocol.VoxelNotesPayload
	if err := back.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Level != 3 || p.Scene != 0x0b || len(p.Notes) != 2 {
		t.Fatalf("payload=%+v", p)
	}

	empty, _ := protocol.NewSync(protocol.GroupRequestScene, nil)
	if err := empty.Decode(&p); err == nil {
		t.Fatalf("expected empty payload error")
	}
}
