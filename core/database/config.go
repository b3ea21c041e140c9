package database

import (
	"fmt"
	"net/url"

	coreconfig "github.com/m3rciful/agendabot/core/config"
)

// Config is the Postgres section of the application config.
type Config = coreconfig.DatabaseConfig

// DSN returns the key/value connection string used by lib/pq.
func DSN(cfg Config) string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)
}

// URL returns the postgres:// form expected by golang-migrate.
func URL(cfg Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.SSLMode),
	}
	return u.String()
}
