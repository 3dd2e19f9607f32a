package sources

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/opexledger/internal/domain"
)

type postgresStream struct {
	conn    *pgx.Conn
	rows    pgx.Rows
	empresa string
	sign    SignRule
}

func openPostgres(ctx context.Context, c Connection, q Query, desc Descriptor) (Stream, error) {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	cfg, err := pgx.ParseConfig(fmt.Sprintf("sslmode=%s", sslmode))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	cfg.Host = c.Host
	cfg.Port = uint16(c.Port)
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	cfg.User = c.User
	cfg.Password = c.Password
	cfg.Database = c.Database
	cfg.ConnectTimeout = c.timeout()

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	rows, err := conn.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	return &postgresStream{conn: conn, rows: rows, empresa: desc.Name, sign: desc.Sign}, nil
}

func (s *postgresStream) Next(ctx context.Context, max int) ([]domain.RawRow, error) {
	batch := make([]domain.RawRow, 0, max)
	for len(batch) < max && s.rows.Next() {
		var vals [projectedColumns]*string
		dest := make([]any, projectedColumns)
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := s.rows.Scan(dest...); err != nil {
			return batch, fmt.Errorf("failed to scan row: %w", err)
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

func (s *postgresStream) Close() error {
	s.rows.Close()
	return s.conn.Close(context.Background())
}
