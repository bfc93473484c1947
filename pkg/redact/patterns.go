package redact

// builtinPattern is a name/regex/replacement triple compiled eagerly by
// NewRedactor. The set below generalizes the teacher's config.builtin.go
// MaskingPatterns (pkg/masking) from MCP tool-result scrubbing to quarantine
// and log scrubbing of envelope payloads: credentials, tokens and key
// material that should never reach a log line or a quarantined_messages row
// in cleartext.
type builtinPattern struct {
	name        string
	pattern     string
	replacement string
}

var builtinPatterns = []builtinPattern{
	{
		name:        "api_key",
		pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
		replacement: `"api_key": "[REDACTED_API_KEY]"`,
	},
	{
		name:        "password",
		pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
		replacement: `"password": "[REDACTED_PASSWORD]"`,
	},
	{
		name:        "token",
		pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`,
		replacement: `"token": "[REDACTED_TOKEN]"`,
	},
	{
		name:        "private_key_block",
		pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
		replacement: `[REDACTED_KEY_MATERIAL]`,
	},
	{
		name:        "aws_access_key_id",
		pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
		replacement: `"aws_access_key_id": "[REDACTED_AWS_KEY]"`,
	},
	{
		name:        "aws_secret_access_key",
		pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
		replacement: `"aws_secret_access_key": "[REDACTED_AWS_SECRET]"`,
	},
	{
		name:        "github_token",
		pattern:     `(?i)(?:github[_-]?token|gh[ps]_[A-Za-z0-9_]{36,255})`,
		replacement: `[REDACTED_GITHUB_TOKEN]`,
	},
	{
		name:        "slack_token",
		pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
		replacement: `[REDACTED_SLACK_TOKEN]`,
	},
	{
		name:        "db_connection_string",
		pattern:     `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?):\/\/[^:\s]+:[^@\s]+@[^\s"']+`,
		replacement: `[REDACTED_CONNECTION_STRING]`,
	},
}
