package internal

const (
	AppName      = "shellpilot"
	EnvPrefix    = "SHELLPILOT"
	ConfigName   = "config"
	ConfigType   = "yaml"
	EventSubject = "shellpilot.events"
)
