package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "tokbot/pkg/logx"
)

// ConfigChange summarizes a reload for logging.
type ConfigChange struct {
	// Sections that differ, sorted.
	Changed []string
	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
	// Attrs are safe structured fields (never include tokens or passwords).
	Attrs []logx.Field
}

func (c ConfigChange) Empty() bool { return len(c.Changed) == 0 }

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) ConfigChange {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out ConfigChange
	mark := func(section string, restart bool, attrs ...logx.Field) {
		out.Changed = append(out.Changed, section)
		if restart {
			out.RestartRequired = append(out.RestartRequired, section)
		}
		out.Attrs = append(out.Attrs, attrs...)
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := o.Token != n.Token
	if tokenChanged || strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) {
		mark("telegram.bot", true,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.String("telegram.poll_timeout", strings.TrimSpace(n.PollTimeout)),
		)
	}
	if !reflect.DeepEqual(o.AdminIDs, n.AdminIDs) || strings.TrimSpace(o.GroupLog) != strings.TrimSpace(n.GroupLog) {
		mark("telegram.admins", false,
			logx.Int("telegram.admin_count", len(n.AdminIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.GroupLog) != ""),
		)
	}

	if oldCfg.Router != newCfg.Router {
		mark("router", true, logx.Int("router.workers", newCfg.Router.Workers))
	}
	if oldCfg.Resolver != newCfg.Resolver {
		mark("resolver", false, logx.String("resolver.base_url", newCfg.Resolver.BaseURL))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		mark("broadcast", false,
			logx.String("broadcast.start_arg", newCfg.Broadcast.StartArg),
			logx.String("broadcast.delay", newCfg.Broadcast.Delay),
		)
	}
	if oldCfg.Directory != newCfg.Directory {
		mark("directory", true, logx.String("directory.driver", newCfg.Directory.Driver))
	}
	if oldCfg.Session != newCfg.Session {
		mark("session", true, logx.String("session.driver", newCfg.Session.Driver))
	}
	if oldCfg.Report != newCfg.Report {
		mark("report", false,
			logx.String("report.schedule", newCfg.Report.Schedule),
			logx.String("report.timezone", newCfg.Report.Timezone),
		)
	}
	if oldCfg.Texts != newCfg.Texts {
		mark("texts", false)
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Systemd != newCfg.Systemd {
		mark("systemd", true)
	}

	sort.Strings(out.Changed)
	sort.Strings(out.RestartRequired)
	return out
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
