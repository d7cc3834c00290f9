package sandbox

import (
	"regexp"
	"strings"
)

// ConfirmPrefix lets a submission bypass the guard list by literally
// prefixing the command text.
const ConfirmPrefix = "confirm:"

// defaultGuards is the ordered list of destructive-looking command patterns
// that require an explicit confirm: prefix before they're allowed to run.
var defaultGuards = []*regexp.Regexp{
	regexp.MustCompile(`\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`\bgit\s+push\s+(--force|-f)\b`),
	regexp.MustCompile(`\bgit\s+checkout\s+--\s`),
	regexp.MustCompile(`\bgit\s+clean\s+-f`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*rf[a-zA-Z]*\s+(/|\.|\*|~)`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*fr[a-zA-Z]*\s+(/|\.|\*|~)`),
	regexp.MustCompile(`\bfind\s+\S+.*(-delete|-exec\s+rm\b)`),
	regexp.MustCompile(`\btrash\s+-rf\b`),
	regexp.MustCompile(`\bfd\s+.*--exec\s+rm\b`),
}

// GuardMatch is the guard pattern that tripped, paired with the message
// shown in the resulting ExecApprovalRequest.
type GuardMatch struct {
	Pattern string
	Message string
}

// CheckConfirmGuard matches raw (the joined argv or shell script) against
// the guard list. It returns ok=false with the tripped guard when raw looks
// destructive and the submission didn't start with ConfirmPrefix.
func CheckConfirmGuard(raw string) (ok bool, match *GuardMatch) {
	if strings.HasPrefix(strings.TrimSpace(raw), ConfirmPrefix) {
		return true, nil
	}
	for _, guard := range defaultGuards {
		if guard.MatchString(raw) {
			return false, &GuardMatch{
				Pattern: guard.String(),
				Message: "this command looks destructive: " + raw + ". Prefix with \"confirm:\" to run it anyway.",
			}
		}
	}
	return true, nil
}

// StripConfirmPrefix removes a leading "confirm:" so the real command can be
// executed after the guard has approved it.
func StripConfirmPrefix(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, ConfirmPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(trimmed, ConfirmPrefix))
	}
	return raw
}
