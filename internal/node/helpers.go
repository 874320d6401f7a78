package node

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-transfers/config"
	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
)

// expandHome resolves "~" and "~/..." against the user's home directory.
// Other paths, including "~user/...", are returned as given.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// logFile returns where the node writes its JSON log.
func logFile(cfg *config.Config) string {
	if cfg.Log.File != "" {
		return expandHome(cfg.Log.File)
	}
	return filepath.Join(expandHome(cfg.LogsDir()), "klingnet.log")
}

// initLogger points the global logger at the console and the node log file.
func initLogger(cfg *config.Config) error {
	file := logFile(cfg)
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return err
	}
	return klog.Init(cfg.Log.Level, cfg.Log.JSON, file)
}
