package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rpattn/opexledger/internal/domain"
)

// Stream yields the raw rows of one source in bounded chunks.
//
// Next returns io.EOF once the source is exhausted. When it returns another
// error, the rows returned with it were read successfully and remain usable.
type Stream interface {
	Next(ctx context.Context, max int) ([]domain.RawRow, error)
	Close() error
}

// Opener connects to the source a descriptor points at.
type Opener interface {
	Open(ctx context.Context, desc Descriptor) (Stream, error)
}

// Registry opens sources against a fixed set of named connections.
type Registry struct {
	connections map[string]Connection
	log         zerolog.Logger
}

// NewRegistry builds a registry over connections keyed by name.
func NewRegistry(connections map[string]Connection, log zerolog.Logger) *Registry {
	return &Registry{connections: connections, log: log}
}

// Open renders the descriptor's query and starts streaming it. Every failure
// is reported as ErrSourceUnavailable for that source.
func (r *Registry) Open(ctx context.Context, desc Descriptor) (Stream, error) {
	conn, ok := r.connections[desc.Connection]
	if !ok {
		return nil, unavailable(desc.Name, fmt.Errorf("unknown connection %q", desc.Connection))
	}
	if missing := conn.Missing(); len(missing) > 0 {
		return nil, unavailable(desc.Name, fmt.Errorf("missing credentials: %s", strings.Join(missing, ", ")))
	}
	if desc.Database != "" {
		conn.Database = desc.Database
	}

	query, err := BuildQuery(conn.Dialect, desc)
	if err != nil {
		return nil, unavailable(desc.Name, err)
	}

	r.log.Debug().
		Str("source", desc.Name).
		Str("connection", desc.Connection).
		Str("database", conn.Database).
		Int("params", len(query.Args)).
		Msg("opening source")

	var stream Stream
	switch conn.Dialect {
	case DialectPostgres:
		stream, err = openPostgres(ctx, conn, query, desc)
	case DialectSQLServer:
		stream, err = openSQLServer(ctx, conn, query, desc)
	default:
		err = fmt.Errorf("%w: %q", errUnknownDialect, conn.Dialect)
	}
	if err != nil {
		return nil, unavailable(desc.Name, err)
	}
	return stream, nil
}

func unavailable(source string, err error) error {
	return &domain.SourceError{Source: source, Err: fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)}
}

// toRawRow applies the sign rule to the projected columns.
func toRawRow(empresa string, vals [projectedColumns]*string, sign SignRule) domain.RawRow {
	return domain.RawRow{
		Empresa:          empresa,
		FechaCorte:       vals[colFechaCorte],
		FechaTransaccion: vals[colFechaTransaccion],
		CuentaContable:   vals[colCuentaContable],
		IDProveedor:      vals[colIDProveedor],
		NombreTercero:    vals[colNombreTercero],
		DescripcionGasto: vals[colDescripcion],
		Valor:            sign.Apply(vals[colAmount], vals[colDebit], vals[colCredit], vals[colFlag]),
	}
}
