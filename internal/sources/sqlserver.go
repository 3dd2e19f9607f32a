package sources

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/rpattn/opexledger/internal/domain"
)

type sqlServerStream struct {
	db      *sql.DB
	rows    *sql.Rows
	empresa string
	sign    SignRule
}

func sqlServerDSN(c Connection) string {
	host := c.Host
	if c.Port > 0 {
		host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	encrypt := c.Encrypt
	if encrypt == "" {
		encrypt = "disable"
	}

	query := url.Values{}
	if c.Database != "" {
		query.Set("database", c.Database)
	}
	query.Set("encrypt", encrypt)
	query.Set("TrustServerCertificate", "true")
	query.Set("dial timeout", strconv.Itoa(int(c.timeout().Seconds())))
	query.Set("app name", "opexledger")

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.User, c.Password),
		Host:     host,
		RawQuery: query.Encode(),
	}
	return u.String()
}

func openSQLServer(ctx context.Context, c Connection, q Query, desc Descriptor) (Stream, error) {
	db, err := sql.Open("sqlserver", sqlServerDSN(c))
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	return &sqlServerStream{db: db, rows: rows, empresa: desc.Name, sign: desc.Sign}, nil
}

func (s *sqlServerStream) Next(ctx context.Context, max int) ([]domain.RawRow, error) {
	batch := make([]domain.RawRow, 0, max)
	for len(batch) < max && s.rows.Next() {
		var scanned [projectedColumns]sql.NullString
		dest := make([]any, projectedColumns)
		for i := range scanned {
			dest[i] = &scanned[i]
		}
		if err := s.rows.Scan(dest...); err != nil {
			return batch, fmt.Errorf("failed to scan row: %w", err)
		}
		var vals [projectedColumns]*string
		for i, v := range scanned {
			if v.Valid {
				value := v.String
				vals[i] = &value
			}
		}
		batch = append(batch, toRawRow(s.empresa, vals, s.sign))
	}
	if len(batch) == max {
		return batch, nil
	}
	if err := s.rows.Err(); err != nil {
		return batch, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (s *sqlServerStream) Close() error {
	_ = s.rows.Close()
	return s.db.Close()
}
