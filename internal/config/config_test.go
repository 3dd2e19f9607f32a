package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/opexledger/internal/sources"
)

const sampleConfig = `
destination:
  host: warehouse.local
  user: etl
  password: etl-pass
  dbname: control
connections:
  Warehouse:
    dialect: postgres
    env_prefix: TESTPG
    port: 5432
  gen:
    dialect: sqlserver
    env_prefix: TESTGEN
    encrypt: disable
    connect_timeout: 90s
sources:
  - name: GFO
    connection: warehouse
    from: control_gestion.libros_diarios_gfo
    columns:
      fecha_transaccion: fecha_docto
      cuenta_contable: cuenta
      id_proveedor: tercero
      nombre_tercero: nombre_razon_social
      descripcion: [detalle, cuenta_descripcion]
    cutoff: {column: "fecha_docto::date", value: "2024-01-01"}
    account_prefixes: ["5"]
    sign: {rule: dc_flag, amount: valor_l1, flag: d_c}
  - name: NC SA
    connection: GEN
    from: ncsContab.dbo.DetalleComprobante DC
    columns:
      fecha_transaccion: DC.Com_Periodo
      cuenta_contable: DC.Cta_Codigo
    sign: {rule: signed, amount: DC.Dco_Monto}
loader:
  strategy: incremental_append
  carry_over_manual: true
server:
  cache_ttl: 30s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReadsSectionsAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Destination.Host != "warehouse.local" || cfg.Destination.Port != 5432 || cfg.Destination.SSLMode != "disable" {
		t.Fatalf("unexpected destination %+v", cfg.Destination)
	}
	if err := cfg.RequireDestination(); err != nil {
		t.Fatalf("expected destination to be complete: %v", err)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if cfg.Sources[1].Connection != "gen" {
		t.Fatalf("expected connection names to be normalised, got %q", cfg.Sources[1].Connection)
	}
	if cfg.Sources[0].Sign.Rule != sources.SignDCFlag {
		t.Fatalf("expected dc_flag sign rule, got %q", cfg.Sources[0].Sign.Rule)
	}
	gen := cfg.Connections["gen"]
	if gen.Name != "gen" || gen.Dialect != sources.DialectSQLServer || gen.ConnectTimeout != 90*time.Second {
		t.Fatalf("unexpected gen connection %+v", gen)
	}
	if cfg.Loader.Strategy != "incremental_append" || !cfg.Loader.CarryOverManual || cfg.Loader.ChunkSize != 50000 {
		t.Fatalf("unexpected loader settings %+v", cfg.Loader)
	}
	if cfg.Classifier.ChunkSize != 50000 || cfg.Classifier.ConsistencyChunkSize != 5000 || cfg.Classifier.ModelDir != "models" {
		t.Fatalf("unexpected classifier defaults %+v", cfg.Classifier)
	}
	if cfg.Server.Addr != ":8000" || cfg.Server.CacheTTL != 30*time.Second || cfg.Server.MaxRows != 50000 {
		t.Fatalf("unexpected server settings %+v", cfg.Server)
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("PG_PASS", "secret")
	t.Setenv("TESTGEN_HOST", "10.0.0.8")
	t.Setenv("TESTGEN_USER", "reader")
	t.Setenv("TESTGEN_PASS", "pw")
	t.Setenv("TESTPG_PORT", "6543")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Destination.Host != "db.internal" || cfg.Destination.Password != "secret" {
		t.Fatalf("destination env not applied: %+v", cfg.Destination)
	}
	gen := cfg.Connections["gen"]
	if gen.Host != "10.0.0.8" || gen.User != "reader" || gen.Password != "pw" {
		t.Fatalf("connection env not applied: %+v", gen)
	}
	if missing := gen.Missing(); len(missing) != 0 {
		t.Fatalf("expected no missing credentials, got %v", missing)
	}
	if cfg.Connections["warehouse"].Port != 6543 {
		t.Fatalf("expected port override, got %d", cfg.Connections["warehouse"].Port)
	}
}

func TestLoadRejectsUnknownConnection(t *testing.T) {
	body := `
sources:
  - name: X
    connection: nowhere
    from: t
    columns: {fecha_transaccion: f, cuenta_contable: c}
    sign: {rule: signed, amount: v}
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected unknown connection to fail validation")
	}
}

func TestRequireDestination(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := cfg.RequireDestination(); !errors.Is(err, ErrMissingDestination) {
		t.Fatalf("expected ErrMissingDestination, got %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
}

func TestRequireDestinationNeedsPassword(t *testing.T) {
	t.Setenv("PG_PASS", "")
	cfg, err := Load(writeConfig(t, "destination:\n  host: warehouse.local\n  user: etl\n  dbname: control\n"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	err = cfg.RequireDestination()
	if !errors.Is(err, ErrMissingDestination) {
		t.Fatalf("expected ErrMissingDestination, got %v", err)
	}
	if !strings.Contains(err.Error(), "PG_PASS") || strings.Contains(err.Error(), "PG_HOST") {
		t.Fatalf("expected only PG_PASS to be reported, got %v", err)
	}
}
