package config

var defaults = map[string]any{
	"log_level":        "info",
	"listen":           ":8080",
	"allowed_networks": "",
	"virtual_events":   false,

	"vault.key": "",

	"storage.type":         "sqlite",
	"storage.sqlite.path":  "./data/attendance.db",
	"storage.postgres.dsn": "",

	"webhook.secret":            "",
	"webhook.require_signature": false,

	"stream.retry_delay":        "10s",
	"stream.heartbeat_interval": "30s",
	"stream.silence_timeout":    "60s",
	"websocket.retry_delay":     "5s",
	"probe.timeout":             "5s",

	"pipeline.buffer":       256,
	"health.stamp_interval": "30s",

	"adms.timezone": "UTC",
}

func Defaults() map[string]any {
	values := make(map[string]any)
	for k, v := range defaults {
		values[k] = v
	}
	return values
}
