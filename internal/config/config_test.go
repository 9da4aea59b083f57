package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/exovoice/exo/internal/config"
	"github.com/exovoice/exo/internal/vad"
)

const fullConfigYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  log_format: json
providers:
  transcriber:
    name: whisper
    model_path: /models/ggml-small.bin
    language: fr
  brain:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  tts:
    name: piper
    server_url: http://piper:5000
    voice: fr_FR-siwis-medium
vad:
  fixed_threshold: 600
  noise_multiplier: 1.5
  noise_ceiling: 2.0
  calibration_frames: 20
  silence_chunks: 12
  window_size: 15
  window_ratio: 0.25
  min_utterance: 800ms
  max_utterance: 15s
  min_voiced_chunks: 8
  max_wait: 30s
stt:
  workers: 2
  submit_interval: 1s
  reuse_threshold: 6
  max_snapshot: 8s
  followup_timeout: 6s
wake:
  words: [exo, écho]
  fuzzy_threshold: 0.9
session:
  max_processing: 2
  queue_size: 32
  error_cooldown: 1s
  rooms:
    - name: salon
      priority: 1
    - name: cuisine
      priority: 2
ingest:
  enabled: true
  listen_addr: ":8081"
history:
  backend: postgres
  postgres_dsn: postgres://exo@localhost/exo
`

func TestFullConfigDecodes(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullConfigYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogFormat != config.LogJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.Transcriber.Name != "whisper" || cfg.Providers.Transcriber.Language != "fr" {
		t.Errorf("transcriber = %+v", cfg.Providers.Transcriber)
	}
	if cfg.Providers.Brain.Model != "gpt-4o-mini" {
		t.Errorf("brain = %+v", cfg.Providers.Brain)
	}
	if cfg.VAD.MinUtterance.Std() != 800*time.Millisecond {
		t.Errorf("vad.min_utterance = %v", cfg.VAD.MinUtterance.Std())
	}
	if cfg.STT.FollowupTimeout.Std() != 6*time.Second {
		t.Errorf("stt.followup_timeout = %v", cfg.STT.FollowupTimeout.Std())
	}
	if len(cfg.Wake.Words) != 2 || cfg.Wake.Words[1] != "écho" {
		t.Errorf("wake.words = %v", cfg.Wake.Words)
	}
	if len(cfg.Session.Rooms) != 2 || cfg.Session.Rooms[1].Priority != 2 {
		t.Errorf("rooms = %+v", cfg.Session.Rooms)
	}
	if !cfg.Ingest.Enabled || cfg.Ingest.ListenAddr != ":8081" {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.History.Backend != "postgres" {
		t.Errorf("history = %+v", cfg.History)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yml := `
server:
  listen_addr: ":8080"
  max_connections: 5
session:
  rooms: [{name: salon}]
`
	if _, err := config.LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("decode accepted an unknown field")
	}
}

func TestDurationRejectsBareNumbers(t *testing.T) {
	t.Parallel()

	yml := `
vad:
  max_wait: 30
session:
  rooms: [{name: salon}]
`
	if _, err := config.LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("decode accepted a unitless duration")
	}
}

func TestVADEndpointerConversion(t *testing.T) {
	t.Parallel()

	c := config.VADConfig{
		SilenceChunks:   10,
		WindowSize:      20,
		WindowRatio:     0.3,
		MinVoicedChunks: 5,
		MinUtterance:    config.Duration(time.Second),
		MaxUtterance:    config.Duration(10 * time.Second),
		MaxWait:         config.Duration(time.Minute),
	}
	ep := c.Endpointer(750)
	want := vad.Config{
		Threshold:       750,
		SilenceChunks:   10,
		WindowSize:      20,
		WindowRatio:     0.3,
		MinVoicedChunks: 5,
		MinUtterance:    time.Second,
		MaxUtterance:    10 * time.Second,
		MaxWait:         time.Minute,
	}
	if ep != want {
		t.Fatalf("Endpointer = %+v, want %+v", ep, want)
	}
}

func TestSTTListenerConversion(t *testing.T) {
	t.Parallel()

	c := config.STTConfig{
		Workers:         3,
		SubmitInterval:  config.Duration(2 * time.Second),
		ReuseThreshold:  4,
		MaxSnapshot:     config.Duration(5 * time.Second),
		FollowupTimeout: config.Duration(7 * time.Second),
	}
	ep := vad.Config{Threshold: 500}
	lc := c.Listener(ep)
	if lc.Endpointer != ep {
		t.Errorf("Endpointer = %+v", lc.Endpointer)
	}
	if lc.SubmitInterval != 2*time.Second || lc.ReuseThreshold != 4 {
		t.Errorf("listener = %+v", lc)
	}
	if lc.MaxSnapshot != 5*time.Second || lc.FollowUpTimeout != 7*time.Second {
		t.Errorf("listener = %+v", lc)
	}
	if got := c.Pool().Workers; got != 3 {
		t.Errorf("Pool().Workers = %d, want 3", got)
	}
}

func TestSessionOrchestratorConversion(t *testing.T) {
	t.Parallel()

	c := config.SessionConfig{MaxProcessing: 4, QueueSize: 64}
	oc := c.Orchestrator()
	if oc.MaxProcessing != 4 || oc.QueueCapacity != 64 {
		t.Fatalf("Orchestrator = %+v", oc)
	}
}
