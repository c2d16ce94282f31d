package logging

// InitConfig mirrors pkg/config.LoggingConfig without importing it, avoiding
// an import cycle between logging and config.
type InitConfig struct {
	Level         string
	NodeID        string
	LogFile       string
	EnableConsole bool
	EnableFile    bool
	BufferSize    int
}

// InitializeFromConfig builds a Logger from a loaded configuration and
// installs it as the process-wide global logger.
func InitializeFromConfig(cfg InitConfig) *Logger {
	l := New(Config{
		Level:         LevelFromString(cfg.Level),
		NodeID:        cfg.NodeID,
		LogFile:       cfg.LogFile,
		EnableConsole: cfg.EnableConsole,
		EnableFile:    cfg.EnableFile,
		BufferSize:    cfg.BufferSize,
	})
	SetGlobal(l)
	return l
}
