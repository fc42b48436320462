package utils

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// DBParams - параметры подключения к PostgreSQL
type DBParams struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	PoolSize int
	Timeout  time.Duration
	// AppName попадает в pg_stat_activity.application_name
	AppName string
}

var sslModes = map[string]struct{}{
	"disable": {}, "allow": {}, "prefer": {}, "require": {}, "verify-ca": {}, "verify-full": {},
}

// ConnectionString собирает DSN в формате URL. Логин и пароль экранируются,
// поэтому спецсимволы в пароле не ломают разбор.
func ConnectionString(p DBParams) (string, error) {
	switch {
	case p.Host == "":
		return "", ErrStorageEmptyHostName
	case p.Port <= 0 || p.Port > 65535:
		return "", ErrStorageInvalidPortNumber
	case p.User == "":
		return "", ErrStorageEmptyUsername
	case p.Password == "":
		return "", ErrStorageEmptyPassword
	case p.DBName == "":
		return "", ErrStorageInvalidDatabaseName
	case p.Timeout < 0:
		return "", ErrStorageInvalidTimeout
	case p.PoolSize < 0:
		return "", ErrStorageInvalidPoolSize
	}
	if _, ok := sslModes[p.SSLMode]; !ok {
		return "", ErrStorageInvalidSslMode
	}

	query := url.Values{}
	query.Set("sslmode", p.SSLMode)
	if p.Timeout > 0 {
		seconds := int(p.Timeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		query.Set("connect_timeout", strconv.Itoa(seconds))
	}
	if p.PoolSize > 0 {
		query.Set("pool_max_conns", strconv.Itoa(p.PoolSize))
	}
	if p.AppName != "" {
		query.Set("application_name", p.AppName)
	}

	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.DBName,
		RawQuery: query.Encode(),
	}
	return dsn.String(), nil
}
