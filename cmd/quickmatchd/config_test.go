package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestReadConfig_Defaults(t *testing.T) {
	cfg, err := readConfig(nil)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen=%q", cfg.ListenAddr)
	}
	if cfg.TargetSpare != 1 || cfg.SlotCapacity != 3 || cfg.MaxParticipants != 18 {
		t.Fatalf("pool defaults: %+v", cfg)
	}
	if cfg.IdleShutdown != 180*time.Second {
		t.Fatalf("idle=%s", cfg.IdleShutdown)
	}
	if cfg.BasePort != 27015 || cfg.RoomPrefix != "DedicatedRoom" {
		t.Fatalf("port=%d prefix=%q", cfg.BasePort, cfg.RoomPrefix)
	}
	if cfg.ConfirmTimeout != 30*time.Second || cfg.AdmissionWait != 0 {
		t.Fatalf("confirm=%s admission=%s", cfg.ConfirmTimeout, cfg.AdmissionWait)
	}
	if cfg.HostWrite != 5*time.Second {
		t.Fatalf("host write timeout=%s", cfg.HostWrite)
	}
	if cfg.Stats.Enabled || cfg.Stats.Prefix != "quickmatch:stats" {
		t.Fatalf("stats=%+v", cfg.Stats)
	}
}

func TestReadConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("QM_BASE_PORT", "30000")
	t.Setenv("QM_ROOM_PREFIX", "EnvRoom")
	t.Setenv("QM_SLOT_CAPACITY", "2")
	t.Setenv("QM_IDLE_SHUTDOWN", "1m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := readConfig([]string{"-port", "28000"})
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.BasePort != 28000 {
		t.Fatalf("flag should override env, port=%d", cfg.BasePort)
	}
	if cfg.RoomPrefix != "EnvRoom" || cfg.SlotCapacity != 2 || cfg.IdleShutdown != time.Minute {
		t.Fatalf("env not applied: %+v", cfg)
	}
	lvl, err := cfg.level()
	if err != nil || lvl != slog.LevelDebug {
		t.Fatalf("level=%v err=%v", lvl, err)
	}

	cfg, err = readConfig([]string{"-room-prefix", "FlagRoom"})
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if cfg.RoomPrefix != "FlagRoom" {
		t.Fatalf("prefix=%q", cfg.RoomPrefix)
	}
}

func TestReadConfig_Validation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"capacity", map[string]string{"QM_SLOT_CAPACITY": "0"}, "QM_SLOT_CAPACITY"},
		{"participants", map[string]string{"QM_MAX_PARTICIPANTS": "0"}, "QM_MAX_PARTICIPANTS"},
		{"port", map[string]string{"QM_BASE_PORT": "70000"}, "QM_BASE_PORT"},
		{"rps", map[string]string{"RATE_RPS": "0"}, "RATE_RPS"},
		{"redis", map[string]string{"STATS_ENABLED": "true"}, "STATS_REDIS_ADDR"},
		{"log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"log level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"parse", map[string]string{"QM_TICK": "soon"}, "parse env"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := readConfig(nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want mention of %q", err, tc.want)
			}
		})
	}
}

func TestReadConfig_UnknownFlag(t *testing.T) {
	if _, err := readConfig([]string{"-nope"}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}
