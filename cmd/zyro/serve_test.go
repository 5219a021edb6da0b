package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/zyro/internal/config"
	"github.com/stupiduntilnot/zyro/internal/prompt"
)

func dummyConfig(dir string) config.Config {
	return config.Config{
		Platform:   config.PlatformDummy,
		Completion: config.CompletionConfig{Provider: config.ProviderDummy, Model: "dummy", Timeout: time.Second, MaxTokens: 500},
		History: config.HistoryConfig{
			Backend: config.BackendFile,
			Path:    filepath.Join(dir, "history.json"),
			Window:  8,
		},
		Events: config.EventsConfig{DBPath: filepath.Join(dir, "events.db")},
		Bot:    config.BotConfig{Prefix: "!", MaxConcurrent: 1},
		Dummy: config.DummyConfig{
			Script:         "msg:Hello,msg:,raw:!lock",
			ProviderScript: "msg:Hi there",
		},
	}
}

func TestRunServe_DummyEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := dummyConfig(dir)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, runServe(ctx, cfg))

	raw, err := os.ReadFile(cfg.History.Path)
	require.NoError(t, err)
	var doc map[string][]prompt.Message
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, []prompt.Message{
		{Role: prompt.RoleUser, Content: "Hello"},
		{Role: prompt.RoleAssistant, Content: "Hi there"},
	}, doc["1"])

	var buf bytes.Buffer
	require.NoError(t, runEvents(&buf, eventsFlags{dbPath: cfg.Events.DBPath, noPayload: true}))
	out := buf.String()
	for _, want := range []string{"process.started", "exchange.started", "exchange.completed", "reply.sent", "channel.locked", "process.stopped"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "exchange.failed")
}

func TestRunServe_SQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := dummyConfig(dir)
	cfg.History = config.HistoryConfig{Backend: config.BackendSQLite, SQLitePath: filepath.Join(dir, "zyro.db"), Window: 8}
	cfg.Events.DBPath = ""

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, runServe(ctx, cfg))

	store, err := openHistory(context.Background(), cfg.History)
	require.NoError(t, err)
	defer store.Close()
	assert.Len(t, store.Get("1"), 2)
}

func TestHistoryShow(t *testing.T) {
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "history.json")
	require.NoError(t, os.WriteFile(historyPath, []byte(`{"42":[{"role":"user","content":"oi"},{"role":"assistant","content":"olá!"}]}`), 0o600))
	configPath := filepath.Join(dir, "zyro.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("history:\n  path: "+historyPath+"\n"), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", configPath, "history", "show", "42"})
	require.NoError(t, root.Execute())

	var got []prompt.Message
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, []prompt.Message{
		{Role: prompt.RoleUser, Content: "oi"},
		{Role: prompt.RoleAssistant, Content: "olá!"},
	}, got)
}

func TestServeCmd_InvalidConfigFails(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("GROQ_API_KEY", "")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token")
}
