package config

// ConfigDiff describes what changed between two configs when the file
// watcher reloads it. Only fields that can be safely hot-applied without
// tearing down active connections are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CachePolicyChanged bool
	NewCachePolicy     string

	// MaxConnectRetriesChanged and DAVEEnableChanged affect only
	// connections/sessions established after the reload; they do not
	// retroactively apply to connections already in progress.
	MaxConnectRetriesChanged bool
	NewMaxConnectRetries     int

	DAVEEnableChanged bool
	NewDAVEEnable     bool

	SendAudioTypeChanged bool
	NewSendAudioType     SendAudioType
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to observe without restarting the process.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.CachePolicy != new.Server.CachePolicy {
		d.CachePolicyChanged = true
		d.NewCachePolicy = new.Server.CachePolicy
	}

	if old.Server.MaxConnectRetries != new.Server.MaxConnectRetries {
		d.MaxConnectRetriesChanged = true
		d.NewMaxConnectRetries = new.Server.MaxConnectRetries
	}

	if old.DAVE.Enable != new.DAVE.Enable {
		d.DAVEEnableChanged = true
		d.NewDAVEEnable = new.DAVE.Enable
	}

	if old.Voice.SendAudioType != new.Voice.SendAudioType {
		d.SendAudioTypeChanged = true
		d.NewSendAudioType = new.Voice.SendAudioType
	}

	return d
}
