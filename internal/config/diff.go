package config

// ConfigDiff describes what changed between two configs. Only the log level
// can be hot-reloaded; every other change needs a restart to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is true when a field outside the hot-reloadable set
	// changed. Restart lists those fields by YAML path.
	RestartRequired bool
	Restart         []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(field string) {
		d.RestartRequired = true
		d.Restart = append(d.Restart, field)
	}
	if old.Server.Endpoint != new.Server.Endpoint {
		restart("server.endpoint")
	}
	if old.Server.SessionID != new.Server.SessionID {
		restart("server.session_id")
	}
	if old.Audio != new.Audio {
		restart("audio")
	}
	if old.Transport != new.Transport {
		restart("transport")
	}
	if old.Metrics != new.Metrics {
		restart("metrics")
	}

	return d
}
