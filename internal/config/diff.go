package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs. Only server.log_level is applied at
// runtime; every other section is reported in RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Device != new.Device {
		d.RestartRequired = append(d.RestartRequired, "device")
	}
	if old.Protocol != new.Protocol {
		d.RestartRequired = append(d.RestartRequired, "protocol")
	}
	if old.OTA != new.OTA {
		d.RestartRequired = append(d.RestartRequired, "ota")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Orchestrator != new.Orchestrator {
		d.RestartRequired = append(d.RestartRequired, "orchestrator")
	}
	if old.Sounds != new.Sounds {
		d.RestartRequired = append(d.RestartRequired, "sounds")
	}

	return d
}
