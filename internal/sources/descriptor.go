package sources

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Dialect selects how a source query is rendered and which driver runs it.
type Dialect string

const (
	DialectPostgres  Dialect = "postgres"
	DialectSQLServer Dialect = "sqlserver"
)

const (
	defaultConnectTimeout = 180 * time.Second
	defaultChunkSize      = 10000
)

// Connection holds the credentials of one source server.
type Connection struct {
	Name           string        `mapstructure:"-"`
	Dialect        Dialect       `mapstructure:"dialect"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	EnvPrefix      string        `mapstructure:"env_prefix"`
	Encrypt        string        `mapstructure:"encrypt"`
	SSLMode        string        `mapstructure:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Missing lists the credentials that are still empty, named by the
// environment variable that would provide them.
func (c Connection) Missing() []string {
	var missing []string
	check := func(value, suffix string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, envName(c.EnvPrefix, suffix))
		}
	}
	check(c.Host, "HOST")
	check(c.User, "USER")
	check(c.Password, "PASS")
	return missing
}

func envName(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "_" + suffix
}

func (c Connection) timeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return defaultConnectTimeout
}

// Columns maps ledger fields to source expressions. Expressions are trusted
// configuration and are rendered verbatim.
type Columns struct {
	FechaCorte       string   `mapstructure:"fecha_corte"`
	FechaTransaccion string   `mapstructure:"fecha_transaccion"`
	CuentaContable   string   `mapstructure:"cuenta_contable"`
	IDProveedor      string   `mapstructure:"id_proveedor"`
	NombreTercero    string   `mapstructure:"nombre_tercero"`
	Descripcion      []string `mapstructure:"descripcion"`
}

// Cutoff keeps rows whose Column is at or after Value.
type Cutoff struct {
	Column string `mapstructure:"column"`
	Value  string `mapstructure:"value"`
}

// Descriptor declares one accounting entity: where its journal lives and how
// it projects onto the ledger.
type Descriptor struct {
	Name             string   `mapstructure:"name"`
	Connection       string   `mapstructure:"connection"`
	Database         string   `mapstructure:"database"`
	ChunkSize        int      `mapstructure:"chunk_size"`
	From             string   `mapstructure:"from"`
	Filters          []string `mapstructure:"filters"`
	Columns          Columns  `mapstructure:"columns"`
	Cutoff           Cutoff   `mapstructure:"cutoff"`
	AccountPrefixes  []string `mapstructure:"account_prefixes"`
	ExcludedAccounts []string `mapstructure:"excluded_accounts"`
	Sign             SignRule `mapstructure:"sign"`
	Disabled         bool     `mapstructure:"disabled"`
}

// ProvidesFechaCorte reports whether the source carries its own reporting period.
func (d Descriptor) ProvidesFechaCorte() bool {
	return strings.TrimSpace(d.Columns.FechaCorte) != ""
}

// EffectiveChunkSize falls back to fallback, then to the package default.
func (d Descriptor) EffectiveChunkSize(fallback int) int {
	switch {
	case d.ChunkSize > 0:
		return d.ChunkSize
	case fallback > 0:
		return fallback
	default:
		return defaultChunkSize
	}
}

// Validate checks that the descriptor can be rendered into a query.
func (d Descriptor) Validate() error {
	var problems []string
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(d.Connection) == "" {
		problems = append(problems, "connection is required")
	}
	if strings.TrimSpace(d.From) == "" {
		problems = append(problems, "from is required")
	}
	if strings.TrimSpace(d.Columns.CuentaContable) == "" {
		problems = append(problems, "columns.cuenta_contable is required")
	}
	if !d.ProvidesFechaCorte() && strings.TrimSpace(d.Columns.FechaTransaccion) == "" {
		problems = append(problems, "columns.fecha_transaccion is required when fecha_corte is not provided")
	}
	if (d.Cutoff.Column == "") != (d.Cutoff.Value == "") {
		problems = append(problems, "cutoff needs both column and value")
	}
	if err := d.Sign.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("source %q: %s", d.Name, strings.Join(problems, "; "))
	}
	return nil
}

var errUnknownDialect = errors.New("unknown dialect")
