package config

import "regexp"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// placeholder "***". Use it when logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Operator.PrivateKey)
	redact(&out.Operator.KeyPassword)

	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

var (
	dsnURLPassword = regexp.MustCompile(`(://[^:/@]+:)[^@]*@`)
	dsnKVPassword  = regexp.MustCompile(`(password=)\S+`)
)

// redactDSN masks the password of a URL or key=value connection string and
// keeps the rest readable.
func redactDSN(dsn string) string {
	dsn = dsnURLPassword.ReplaceAllString(dsn, "${1}"+redacted+"@")
	return dsnKVPassword.ReplaceAllString(dsn, "${1}"+redacted)
}
