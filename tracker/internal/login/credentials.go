package login

import "log/slog"

// Credentials is the username/password pair for one run. It formats and
// logs with the password redacted.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return c.Username + ":[redacted]"
}

// LogValue implements slog.LogValuer.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("password", "[redacted]"),
	)
}

// Empty reports whether either half is missing.
func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}
