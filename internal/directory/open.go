package directory

import (
	"fmt"
	"strings"

	logx "tokbot/pkg/logx"
)

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (Directory, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var (
		d   Directory
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		d, err = openSQLite(cfg, log)
	case "file":
		d, err = openFile(cfg, log)
	case "memory":
		d = NewMemory()
	default:
		err = fmt.Errorf("unknown directory driver: %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	return d, nil
}
