package postgres

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// Config holds connection parameters. DSN wins over the discrete fields.
type Config struct {
	DSN      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MinConns         int32
	MaxConns         int32
	ConnectTimeout   time.Duration
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
}

// ConnString returns the connection string the pool is built from.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	switch {
	case c.User != "" && c.Password != "":
		u.User = url.UserPassword(c.User, c.Password)
	case c.User != "":
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

var kvPasswordRegex = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// SanitizeDSN masks the password in a URL or key/value connection string.
func SanitizeDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		q := u.Query()
		if q.Has("password") {
			q.Set("password", "xxxxx")
			u.RawQuery = q.Encode()
		}
		return u.Redacted()
	}
	return kvPasswordRegex.ReplaceAllString(dsn, "${1}xxxxx")
}

func (c Config) String() string {
	return fmt.Sprintf("postgres(%s, pool %d-%d)", SanitizeDSN(c.ConnString()), c.MinConns, c.MaxConns)
}
