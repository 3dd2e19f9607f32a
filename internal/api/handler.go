package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rpattn/opexledger/internal/classifier"
	"github.com/rpattn/opexledger/internal/domain"
	"github.com/rpattn/opexledger/internal/logger"
	"github.com/rpattn/opexledger/internal/repository"
)

const (
	opexPrefix     = "/api/v1/opex"
	financePrefix  = "/api/v1/finance"
	pipelinePrefix = "/api/v1/pipeline"

	defaultMaxRows      = 50000
	defaultPendingLimit = 50
	maxBodyBytes        = 10 << 20
)

// Handler serves the consumer contract over the consolidated ledger.
type Handler struct {
	ledger    repository.LedgerQueries
	predictor classifier.Predictor
	params    repository.FinancialParamsRepository
	runs      repository.RunLogRepository
	cache     Cache
	maxRows   int
	log       zerolog.Logger
	now       func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithPredictor enables the interactive prediction endpoint.
func WithPredictor(p classifier.Predictor) Option {
	return func(h *Handler) { h.predictor = p }
}

// WithFinancialParams enables the financial parameters endpoints.
func WithFinancialParams(repo repository.FinancialParamsRepository) Option {
	return func(h *Handler) { h.params = repo }
}

// WithRunLog enables the run log endpoint.
func WithRunLog(repo repository.RunLogRepository) Option {
	return func(h *Handler) { h.runs = repo }
}

// WithCache caches category and summary reads.
func WithCache(cache Cache) Option {
	return func(h *Handler) {
		if cache != nil {
			h.cache = cache
		}
	}
}

// WithMaxRows caps every row returning read.
func WithMaxRows(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxRows = n
		}
	}
}

// NewHandler creates the API handler.
func NewHandler(ledger repository.LedgerQueries, log zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		ledger:  ledger,
		cache:   NoopCache{},
		maxRows: defaultMaxRows,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodGet && path == "/healthz":
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "models_loaded": h.predictor != nil && h.predictor.Ready()})
	case r.Method == http.MethodGet && path == opexPrefix+"/categories":
		h.handleCategories(w, r)
	case r.Method == http.MethodGet && path == opexPrefix+"/summary":
		h.handleSummary(w, r)
	case r.Method == http.MethodGet && path == opexPrefix+"/transactions":
		h.handleTransactions(w, r)
	case r.Method == http.MethodGet && path == opexPrefix+"/transactions/export":
		h.handleExport(w, r)
	case r.Method == http.MethodGet && path == opexPrefix+"/pending-classification":
		h.handlePending(w, r)
	case r.Method == http.MethodPost && path == opexPrefix+"/predict":
		h.handlePredict(w, r)
	case r.Method == http.MethodPut && path == opexPrefix+"/update-batch":
		h.handleUpdateBatch(w, r)
	case r.Method == http.MethodPut && path == opexPrefix+"/update-provider-status":
		h.handleUpdateProviders(w, r)
	case r.Method == http.MethodGet && path == financePrefix+"/params":
		h.handleListParams(w, r)
	case r.Method == http.MethodPost && path == financePrefix+"/params":
		h.handleSaveParams(w, r)
	case r.Method == http.MethodGet && path == pipelinePrefix+"/runs":
		h.handleListRuns(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "categories", func() (any, error) {
		return h.ledger.Categories(r.Context())
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	year := h.now().Year()
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1900 || parsed > 9999 {
			http.Error(w, "year must be a four digit year", http.StatusBadRequest)
			return
		}
		year = parsed
	}
	h.serveCached(w, r, fmt.Sprintf("summary:%d", year), func() (any, error) {
		return h.ledger.Summary(r.Context(), year)
	})
}

// serveCached answers from the cache or computes, stores and writes the
// response.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, load func() (any, error)) {
	if body, ok := h.cache.Get(r.Context(), key); ok {
		w.Header().Set("X-Cache", "HIT")
		writeRawJSON(w, http.StatusOK, body)
		return
	}

	payload, err := load()
	if err != nil {
		h.serverError(w, r, key, err)
		return
	}
	body, err := marshalIndent(payload)
	if err != nil {
		h.serverError(w, r, key, err)
		return
	}
	h.cache.Set(r.Context(), key, body)
	w.Header().Set("X-Cache", "MISS")
	writeRawJSON(w, http.StatusOK, body)
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := h.ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		h.serverError(w, r, "list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
		return
	}

	filter, err := h.parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := h.ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		h.serverError(w, r, "export transactions", err)
		return
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format {
	case FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = writeXLSX(&buf, rows)
	default:
		contentType = "text/csv; charset=utf-8"
		err = writeCSV(&buf, rows)
	}
	if err != nil {
		h.serverError(w, r, "export transactions", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", exportFilename(filter, format)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultPendingLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := h.ledger.ListPendingReview(r.Context(), h.capRows(limit))
	if err != nil {
		h.serverError(w, r, "list pending", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type predictInput struct {
	IDTransaccion    *int64 `json:"id_transaccion,omitempty"`
	Empresa          string `json:"empresa"`
	CuentaContable   string `json:"cuenta_contable"`
	DescripcionGasto string `json:"descripcion_gasto"`
	IDProveedor      string `json:"id_proveedor"`
	NombreTercero    string `json:"nombre_tercero"`
}

type predictOutput struct {
	predictInput
	GrupoPredicho    string  `json:"grupo_predicho"`
	SubgrupoPredicho string  `json:"subgrupo_predicho"`
	Confianza        float64 `json:"confianza"`
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	if h.predictor == nil || !h.predictor.Ready() {
		http.Error(w, domain.ErrModelsUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}

	var inputs []predictInput
	if err := decodeBody(w, r, &inputs); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	out := make([]predictOutput, 0, len(inputs))
	for _, in := range inputs {
		prediction, err := h.predictor.Predict(domain.ExpenseInput{
			CuentaContable:   in.CuentaContable,
			IDProveedor:      in.IDProveedor,
			DescripcionGasto: in.DescripcionGasto,
		})
		if err != nil {
			if errors.Is(err, domain.ErrModelsUnavailable) {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			h.serverError(w, r, "predict", err)
			return
		}
		out = append(out, predictOutput{
			predictInput:     in,
			GrupoPredicho:    prediction.Grupo,
			SubgrupoPredicho: prediction.Subgrupo,
			Confianza:        prediction.Confianza,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type updateResponse struct {
	Status      string `json:"status"`
	UpdatedRows int64  `json:"updated_rows"`
}

func (h *Handler) handleUpdateBatch(w http.ResponseWriter, r *http.Request) {
	var updates []domain.RowUpdate
	if err := decodeBody(w, r, &updates); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	for i := range updates {
		u := &updates[i]
		u.Grupo = strings.TrimSpace(u.Grupo)
		u.Subgrupo = strings.TrimSpace(u.Subgrupo)
		u.StatusGestion = strings.TrimSpace(u.StatusGestion)
		if u.IDTransaccion <= 0 {
			http.Error(w, fmt.Sprintf("update %d: id_transaccion is required", i), http.StatusBadRequest)
			return
		}
		if u.StatusGestion != "" && !domain.ValidStatus(u.StatusGestion) {
			http.Error(w, fmt.Sprintf("update %d: invalid status_gestion %q", i, u.StatusGestion), http.StatusBadRequest)
			return
		}
	}

	updated, err := h.ledger.UpdateRows(r.Context(), updates)
	if err != nil {
		h.serverError(w, r, "update rows", err)
		return
	}
	h.cache.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, updateResponse{Status: "success", UpdatedRows: updated})
}

func (h *Handler) handleUpdateProviders(w http.ResponseWriter, r *http.Request) {
	var updates []domain.ProviderUpdate
	if err := decodeBody(w, r, &updates); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	for i := range updates {
		u := &updates[i]
		u.Grupo = strings.TrimSpace(u.Grupo)
		u.Subgrupo = strings.TrimSpace(u.Subgrupo)
		u.StatusGestion = strings.TrimSpace(u.StatusGestion)
		if strings.TrimSpace(u.NombreTercero) == "" {
			http.Error(w, fmt.Sprintf("update %d: nombre_tercero is required", i), http.StatusBadRequest)
			return
		}
		if u.StatusGestion != "" && !domain.ValidStatus(u.StatusGestion) {
			http.Error(w, fmt.Sprintf("update %d: invalid status_gestion %q", i, u.StatusGestion), http.StatusBadRequest)
			return
		}
	}

	updated, err := h.ledger.UpdateProviders(r.Context(), updates)
	if err != nil {
		h.serverError(w, r, "update providers", err)
		return
	}
	h.cache.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, updateResponse{Status: "success", UpdatedRows: updated})
}

// paramPayload is a financial parameter with its date as YYYY-MM-DD.
type paramPayload struct {
	FechaCorte  string          `json:"fecha_corte"`
	Pais        string          `json:"pais"`
	Categoria   string          `json:"categoria"`
	Concepto    string          `json:"concepto"`
	Valor       decimal.Decimal `json:"valor"`
	Descripcion string          `json:"descripcion"`
}

func (h *Handler) handleListParams(w http.ResponseWriter, r *http.Request) {
	if h.params == nil {
		http.Error(w, "financial parameters are not configured", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	var fechaCorte *time.Time
	if raw := strings.TrimSpace(query.Get("fecha_corte")); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			http.Error(w, "fecha_corte must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		fechaCorte = &parsed
	}
	pais := strings.TrimSpace(query.Get("pais"))
	if strings.EqualFold(pais, "todos") {
		pais = ""
	}

	params, err := h.params.List(r.Context(), fechaCorte, pais)
	if err != nil {
		h.serverError(w, r, "list financial params", err)
		return
	}
	out := make([]paramPayload, len(params))
	for i, p := range params {
		out[i] = paramPayload{
			FechaCorte:  formatDate(p.FechaCorte),
			Pais:        p.Pais,
			Categoria:   p.Categoria,
			Concepto:    p.Concepto,
			Valor:       p.Valor,
			Descripcion: p.Descripcion,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSaveParams(w http.ResponseWriter, r *http.Request) {
	if h.params == nil {
		http.Error(w, "financial parameters are not configured", http.StatusServiceUnavailable)
		return
	}
	var inputs []paramPayload
	if err := decodeBody(w, r, &inputs); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	params := make([]domain.FinancialParam, 0, len(inputs))
	for i, in := range inputs {
		fecha, err := time.Parse(time.DateOnly, strings.TrimSpace(in.FechaCorte))
		if err != nil {
			http.Error(w, fmt.Sprintf("param %d: fecha_corte must be YYYY-MM-DD", i), http.StatusBadRequest)
			return
		}
		p := domain.FinancialParam{
			FechaCorte:  fecha,
			Pais:        strings.TrimSpace(in.Pais),
			Categoria:   strings.TrimSpace(in.Categoria),
			Concepto:    strings.TrimSpace(in.Concepto),
			Valor:       in.Valor,
			Descripcion: in.Descripcion,
		}
		if p.Pais == "" || p.Categoria == "" || p.Concepto == "" {
			http.Error(w, fmt.Sprintf("param %d: pais, categoria and concepto are required", i), http.StatusBadRequest)
			return
		}
		params = append(params, p)
	}

	if _, err := h.params.Upsert(r.Context(), params); err != nil {
		h.serverError(w, r, "save financial params", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "processed": len(params)})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run log is not configured", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	limit, err := parseLimit(query.Get("limit"), 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return
		}
		offset = parsed
	}
	runs, err := h.runs.List(r.Context(), limit, offset)
	if err != nil {
		h.serverError(w, r, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// parseFilter reads the transaction filter. empresas accepts a comma
// separated list, repeated parameters, or both.
func (h *Handler) parseFilter(r *http.Request) (domain.TransactionFilter, error) {
	query := r.URL.Query()
	var filter domain.TransactionFilter

	for _, field := range []struct {
		name   string
		target *time.Time
	}{
		{"start_date", &filter.StartDate},
		{"end_date", &filter.EndDate},
	} {
		raw := strings.TrimSpace(query.Get(field.name))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return filter, fmt.Errorf("%s must be YYYY-MM-DD", field.name)
		}
		*field.target = parsed
	}
	if !filter.StartDate.IsZero() && !filter.EndDate.IsZero() && filter.EndDate.Before(filter.StartDate) {
		return filter, errors.New("end_date is before start_date")
	}

	for _, raw := range query["empresas"] {
		for _, part := range strings.Split(raw, ",") {
			if empresa := strings.TrimSpace(part); empresa != "" {
				filter.Empresas = append(filter.Empresas, empresa)
			}
		}
	}
	filter.AccountPrefix = strings.TrimSpace(query.Get("cuenta"))
	filter.ProviderSearch = strings.TrimSpace(query.Get("proveedor"))

	limit, err := parseLimit(query.Get("limit"), 0)
	if err != nil {
		return filter, err
	}
	filter.Limit = h.capRows(limit)
	return filter, nil
}

// capRows bounds limit by the configured maximum; zero means the maximum.
func (h *Handler) capRows(limit int) int {
	if limit <= 0 || limit > h.maxRows {
		return h.maxRows
	}
	return limit
}

func parseLimit(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, errors.New("limit must be zero or a positive integer")
	}
	return parsed, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return decoder.Decode(target)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log := logger.FromContextOr(r.Context(), h.log)
	log.Error().Err(err).Str("op", op).Msg("request failed")
	http.Error(w, fmt.Sprintf("%s: %v", op, err), http.StatusInternalServerError)
}

func marshalIndent(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
