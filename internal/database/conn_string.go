package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/wstool/internal/config"
)

const applicationName = "wstool"

// BuildConnString builds a PostgreSQL connection URL from config.
// Credentials are escaped, so passwords may contain URL metacharacters.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
