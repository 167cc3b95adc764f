package repository

import (
	"cmp"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/opensource-finance/harrier/internal/domain"
)

// postgresDSN renders cfg as a lib/pq URL. Credentials are escaped so
// passwords may contain any character.
func postgresDSN(cfg domain.RepositoryConfig) string {
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword),
		Host:   net.JoinHostPort(cmp.Or(cfg.PostgresHost, "localhost"), strconv.Itoa(port)),
		Path:   "/" + cmp.Or(cfg.PostgresDB, "harrier"),
	}
	q := url.Values{}
	q.Set("sslmode", cmp.Or(cfg.PostgresSSLMode, "disable"))
	q.Set("application_name", "harrier")
	q.Set("connect_timeout", strconv.Itoa(int(pingTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres at %s: %w", cmp.Or(cfg.PostgresHost, "localhost"), err)
	}
	return db, nil
}
