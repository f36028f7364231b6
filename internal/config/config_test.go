package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bkonline.net/internal/emu"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadServer_ShippedConfig(t *testing.T) {
	cfg, err := LoadServer("../../configs/server.yaml")
	if err != nil {
		t.Fatalf("load server.yaml: %v", err)
	}
	if cfg.Listen == "" || cfg.DataDir == "" || !cfg.ValidateFrames {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadClient_ShippedConfig(t *testing.T) {
	cfg, err := LoadClient("../../configs/client.yaml")
	if err != nil {
		t.Fatalf("load client.yaml: %v", err)
	}
	if cfg.Lobby == "" || cfg.TickInterval != 50*time.Millisecond {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadServer_DefaultsYAMLThenEnv(t *testing.T) {
	p := writeFile(t, "listen: \":9000\"\nsnapshot_every: 30s\nmax_peers: 4\nlog:\n  level: DEBUG\n")
	t.Setenv("BKO_MAX_PEERS", "6")
	t.Setenv("BKO_DATA_DIR", "/tmp/bko")

	cfg, err := LoadServer(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.SnapshotEvery != 30*time.Second {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.MaxPeers != 6 || cfg.DataDir != "/tmp/bko" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Log.Level != "debug" || cfg.QueueSize != 256 {
		t.Fatalf("normalize: %+v", cfg)
	}
}

func TestLoadServer_Invalid(t *testing.T) {
	p := writeFile(t, "listen: \":9000\"\nadmin_listen: \":9000\"\n")
	if _, err := LoadServer(p); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v", err)
	}
	p = writeFile(t, "log:\n  level: loud\n")
	if _, err := LoadServer(p); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v", err)
	}
}

func TestLoadServer_MirrorCredentialsFromEnv(t *testing.T) {
	p := writeFile(t, "mirror:\n  endpoint: r2.example.com\n  bucket: saves\n")
	if _, err := LoadServer(p); !errors.Is(err, ErrInvalid) {
		t.Fatalf("missing credentials accepted: %v", err)
	}
	t.Setenv("BKO_MIRROR_ACCESS_KEY_ID", "ak")
	t.Setenv("BKO_MIRROR_SECRET_ACCESS_KEY", "sk")
	cfg, err := LoadServer(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mirror.Bucket != "saves" || cfg.Mirror.AccessKeyID != "ak" {
		t.Fatalf("mirror=%+v", cfg.Mirror)
	}
}

func TestLoadClient_LayoutOverride(t *testing.T) {
	p := writeFile(t, `url: ws://example.net/v1/ws
lobby: speedrun
nickname: kazooie
layout:
  scene:
    addr: 0x8037e900
    width: u16
`)
	cfg, err := LoadClient(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	l := cfg.GameLayout()
	if l[emu.FieldScene].Addr != 0x8037e900 {
		t.Fatalf("scene=%+v", l[emu.FieldScene])
	}
	if l[emu.FieldMoves] != emu.DefaultLayout()[emu.FieldMoves] {
		t.Fatalf("untouched field changed")
	}
}

func TestLoadClient_Invalid(t *testing.T) {
	p := writeFile(t, "url: http://example.net\n")
	if _, err := LoadClient(p); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v", err)
	}
	p = writeFile(t, "layout:\n  moves:\n    addr: 0x80bffff0\n    width: u32\n")
	if _, err := LoadClient(p); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v", err)
	}
}
