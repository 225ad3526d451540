/*
Package config loads flowdebug settings from YAML or JSON files and the
environment.

# Raw access

Config wraps a decoded document and exposes typed accessors that fall back
to a default when a key is missing or has the wrong type. Keys may be
dotted paths into nested sections:

	cfg, err := config.FromFile("flowdebug.yaml")
	addr := cfg.String("server.addr", ":8080")
	ttl := cfg.Duration("sessions.ttl", time.Hour)

FromFile reads .yaml, .yml and .json files (no extension means yaml) and
rejects top-level keys outside Sections, so a misspelled section is an
error rather than a silent fall back to defaults. Parse does the same for
bytes already in memory.

Duration accepts strings ("30s", "1h30m"), numbers (seconds) or a
time.Duration. Int accepts whole float64 values, which is what JSON
decoding produces.

# Settings

Settings is the typed view the server and CLI consume. Load applies file
values over Defaults, and ApplyEnv applies FLOWDEBUG_* overrides on top:

	FLOWDEBUG_ADDR              server.addr
	FLOWDEBUG_PREFIX            server.prefix
	FLOWDEBUG_SERVICE_NAME      service.name
	FLOWDEBUG_STEP_DELAY        executor.step_delay
	FLOWDEBUG_SESSION_CAPACITY  sessions.capacity
	FLOWDEBUG_SESSION_TTL       sessions.ttl
	FLOWDEBUG_ARCHIVE_PATH      sessions.archive_path
	FLOWDEBUG_LOG_LEVEL         log.level
	FLOWDEBUG_LOG_FORMAT        log.format
	FLOWDEBUG_METRICS           metrics.enabled
	FLOWDEBUG_TRACING           tracing.enabled
	FLOWDEBUG_FLOWS             flows.files (comma separated)
*/
package config
