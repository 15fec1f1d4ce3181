package logging

import "regexp"

var (
	tokenPattern    = regexp.MustCompile(`(token=)[^&\s"]+`)
	userinfoPattern = regexp.MustCompile(`(://[^:/@\s]+:)[^@\s]+@`)
)

// Redact masks pairing tokens in URLs and passwords in connection strings.
func Redact(input string) (redacted string, changed bool) {
	out := input

	next := tokenPattern.ReplaceAllString(out, "${1}[REDACTED]")
	changed = changed || next != out
	out = next

	next = userinfoPattern.ReplaceAllString(out, "${1}[REDACTED]@")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactString is Redact without the changed report.
func RedactString(input string) string {
	out, _ := Redact(input)
	return out
}
