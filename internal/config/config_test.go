package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  admin_ids: [111, 222]
  poll_timeout: "10s"
broadcast:
  delay: "10ms"
directory:
  driver: "memory"
texts:
  welcome: "hi"
logging:
  level: "debug"
  console: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnviron(map[string]string{})

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.IsAdmin(222) || cfg.IsAdmin(333) {
		t.Fatalf("admin set wrong: %v", cfg.Telegram.AdminIDs)
	}
	if cfg.Broadcast.StartArg != "email" {
		t.Fatalf("start_arg default = %q", cfg.Broadcast.StartArg)
	}
	if got := Duration(cfg.Broadcast.Delay); got != 10*time.Millisecond {
		t.Fatalf("delay = %v", got)
	}
	if cfg.Resolver.BaseURL != DefaultResolverBaseURL {
		t.Fatalf("base_url default = %q", cfg.Resolver.BaseURL)
	}
	if cfg.Router.Workers != 1 || cfg.Session.Driver != "memory" {
		t.Fatalf("router/session defaults not applied: %+v %+v", cfg.Router, cfg.Session)
	}
	if cfg.Texts.Welcome != "hi" {
		t.Fatalf("welcome = %q", cfg.Texts.Welcome)
	}
	if m.Get() != cfg {
		t.Fatalf("Load must commit the parsed config")
	}
}

func TestDecodeRejectsUnknownKeysAndTrailingData(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, path, body string
	}{
		{"unknown json key", "c.json", `{"telegram":{"token":"x","nope":1}}`},
		{"unknown yaml key", "c.yaml", "bogus: true\n"},
		{"trailing json", "c.json", `{"telegram":{}} {}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.path, []byte(tc.body)); err == nil {
				t.Fatalf("expected error for %s", tc.body)
			}
		})
	}
}

func TestEnvOverridesFileValues(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	m.SetEnviron(map[string]string{
		"TOKBOT_BOT_TOKEN":      "999:zzz",
		"TOKBOT_ADMIN_IDS":      "5,6",
		"TOKBOT_LOG_LEVEL":      "warn",
		"TOKBOT_DIRECTORY_PATH": "/tmp/users.db",
		"TOKBOT_REDIS_ADDR":     "redis:6379",
	})

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "999:zzz" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminIDs) != 2 || cfg.Telegram.AdminIDs[0] != 5 || cfg.Telegram.AdminIDs[1] != 6 {
		t.Fatalf("admin ids = %v", cfg.Telegram.AdminIDs)
	}
	if cfg.Logging.Level != "warn" || cfg.Directory.Path != "/tmp/users.db" || cfg.Session.RedisAddr != "redis:6379" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Broadcast.Delay = "soon"
	cfg.Directory.Driver = "mongo"
	cfg.Report.Schedule = "every tuesday"

	err := Validate(cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{"telegram.token", "telegram.admin_ids", "broadcast.delay", "directory.driver", "report.schedule"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateAcceptsCronDescriptors(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: TelegramConfig{Token: "t", AdminIDs: []int64{1}}}
	cfg.ApplyDefaults()
	for _, s := range []string{"0 9 * * *", "@every 24h", "@daily"} {
		cfg.Report.Schedule = s
		if err := Validate(cfg); err != nil {
			t.Fatalf("schedule %q: %v", s, err)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a", AdminIDs: []int64{1}}}
	oldCfg.ApplyDefaults()
	newCfg := *oldCfg
	newCfg.Telegram.AdminIDs = []int64{1, 2}
	newCfg.Directory.Path = "./elsewhere.db"

	ch := SummarizeConfigChange(oldCfg, &newCfg)
	if strings.Join(ch.Changed, ",") != "directory,telegram.admins" {
		t.Fatalf("changed = %v", ch.Changed)
	}
	if strings.Join(ch.RestartRequired, ",") != "directory" {
		t.Fatalf("restart required = %v", ch.RestartRequired)
	}
	if !SummarizeConfigChange(oldCfg, oldCfg).Empty() {
		t.Fatalf("identical configs must produce an empty change")
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	m.SetEnviron(map[string]string{})
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	if m.reload(t.Context()) {
		t.Fatalf("unchanged file must not publish")
	}

	updated := strings.Replace(sampleYAML, `welcome: "hi"`, `welcome: "hello"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !m.reload(t.Context()) {
		t.Fatalf("changed file must publish")
	}
	select {
	case cfg := <-sub:
		if cfg.Texts.Welcome != "hello" {
			t.Fatalf("published welcome = %q", cfg.Texts.Welcome)
		}
	default:
		t.Fatalf("subscriber received nothing")
	}

	if err := os.WriteFile(path, []byte("telegram: ["), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.reload(t.Context()) {
		t.Fatalf("broken file must be rejected")
	}
	if m.Get().Texts.Welcome != "hello" {
		t.Fatalf("rejected reload must keep the last good config")
	}
}
