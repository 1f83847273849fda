package terminal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const maxUsernameLength = 32

// reservedUsernames are system account names a session must never map to.
var reservedUsernames = map[string]bool{
	"root": true, "daemon": true, "bin": true, "sys": true, "sync": true,
	"games": true, "man": true, "lp": true, "mail": true, "news": true,
	"uucp": true, "proxy": true, "www-data": true, "backup": true, "list": true,
	"irc": true, "gnats": true, "nobody": true, "nogroup": true, "messagebus": true,
	"sshd": true, "syslog": true, "adm": true, "admin": true, "operator": true,
	"wheel": true, "sudo": true, "staff": true, "users": true, "docker": true,
	"postgres": true, "mysql": true, "redis": true, "_apt": true, "halt": true,
	"shutdown": true, "ftp": true, "tty": true, "disk": true, "kmem": true,
}

// DeriveUsername maps an external identity to an OS account name. It is a
// pure function: the local part of an email (or the identity itself) is
// lower-cased and reduced to [a-z0-9_-]; a leading digit or hyphen gets a
// "u" prefix; the result is at most 32 characters. With nothing usable the
// name falls back to "user_" plus part of the user id. Reserved system
// names get a suffix derived from the user id.
func DeriveUsername(userID, displayIdentity string) string {
	local := displayIdentity
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}

	name := sanitizeUsername(local)
	if name == "" {
		part := filterUsernameChars(userID)
		if len(part) > 8 {
			part = part[:8]
		}
		if part == "" {
			part = userHash(userID)
		}
		name = "user_" + part
	}

	if isReservedUsername(name) {
		name = suffixUsername(name, userID)
	}
	return name
}

func filterUsernameChars(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sanitizeUsername(s string) string {
	name := filterUsernameChars(s)
	if name == "" {
		return ""
	}
	if c := name[0]; (c >= '0' && c <= '9') || c == '-' {
		name = "u" + name
	}
	if len(name) > maxUsernameLength {
		name = name[:maxUsernameLength]
	}
	return name
}

func isReservedUsername(name string) bool {
	return reservedUsernames[name] || strings.HasPrefix(name, "systemd-")
}

// userHash returns six hex characters of sha256(userID).
func userHash(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:6]
}

// suffixUsername appends "_<hash>" to name, trimming to stay within the
// length limit.
func suffixUsername(name, userID string) string {
	suffix := "_" + userHash(userID)
	if len(name)+len(suffix) > maxUsernameLength {
		name = name[:maxUsernameLength-len(suffix)]
	}
	return name + suffix
}
