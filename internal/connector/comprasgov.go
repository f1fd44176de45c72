package connector

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/fetcher"
	"github.com/sells-group/licita-cli/internal/model"
)

const (
	comprasGovPrimaryPath = "/modulo-licitacao/v1/licitacoes"
	comprasGovLegacyPath  = "/modulo-compra/v1/compras"
	// ComprasGovMaxPageSize is the largest page the open data API serves.
	ComprasGovMaxPageSize = 500
)

// record is a decoded Compras.gov object. Field names differ between the
// licitação and compra modules, so lookups take fallback chains.
type record map[string]any

// str returns the first key whose value is a non-empty string or number.
func (r record) str(keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func (r record) num(keys ...string) *float64 {
	for _, k := range keys {
		switch v := r[k].(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return &f
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func (r record) boolean(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || strings.EqualFold(v, "sim")
	}
	return false
}

func (r record) child(key string) record {
	if m, ok := r[key].(map[string]any); ok {
		return record(m)
	}
	return record{}
}

// ComprasGovModality maps a free-text modality name onto the canonical set
// by substring, accepting accented and unaccented spellings.
func ComprasGovModality(name string) model.Modality {
	m := strings.ToLower(name)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(m, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has("pregão", "pregao"):
		if has("eletrônico", "eletronico") {
			return model.ModalityPregaoEletronico
		}
		return model.ModalityPregaoPresencial
	case has("concorrência", "concorrencia"):
		return model.ModalityConcorrenciaEletronica
	case has("dispensa"):
		return model.ModalityDispensa
	case has("inexigibilidade"):
		return model.ModalityInexigibilidade
	}
	return model.ModalityOther
}

// MapComprasGov maps one licitação or compra record.
func MapComprasGov(raw json.RawMessage) (model.NormalizedOpportunity, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var r record
	if err := dec.Decode(&r); err != nil {
		return model.NormalizedOpportunity{}, eris.Wrap(err, "compras_gov: decode record")
	}
	unit := r.child("unidadeOrgao")

	uf := unit.str("ufSigla")
	if uf == "" {
		uf = r.str("uf")
	}
	city := unit.str("municipioNome")
	if city == "" {
		city = r.str("municipio")
	}

	return model.NormalizedOpportunity{
		Source:         model.SourceComprasGov,
		ExternalID:     "compras_gov:" + r.str("id", "numero"),
		Title:          r.str("objeto", "objetoCompra", "descricao"),
		Description:    r.str("informacaoComplementar"),
		Modality:       ComprasGovModality(r.str("modalidadeLicitacao", "modalidade")),
		Number:         r.str("numero", "numeroCompra"),
		ProcessNumber:  r.str("processo", "numeroProcesso"),
		EntityCNPJ:     r.str("cnpjOrgao", "cnpj"),
		EntityName:     r.str("nomeOrgao", "nomeUasg"),
		EntityUF:       uf,
		EntityCity:     city,
		PublishedAt:    r.str("dataPublicacao", "dataResultadoCompra"),
		OpeningAt:      r.str("dataAbertura"),
		ClosingAt:      r.str("dataEncerramento", "dataEntregaProposta"),
		EstimatedValue: r.num("valorEstimado", "valorTotalEstimado"),
		AwardedValue:   r.num("valorHomologado"),
		IsSRP:          r.boolean("srp"),
		Link:           r.str("linkEdital", "link"),
		RawData:        raw,
	}, nil
}

// ComprasGov reads dadosabertos.compras.gov.br.
type ComprasGov struct {
	client   fetcher.JSONGetter
	pageSize int
}

// NewComprasGov builds the connector. pageSize is clamped to
// ComprasGovMaxPageSize.
func NewComprasGov(client fetcher.JSONGetter, pageSize int) *ComprasGov {
	return &ComprasGov{client: client, pageSize: clampPageSize(pageSize, ComprasGovMaxPageSize)}
}

func (c *ComprasGov) Name() model.Source { return model.SourceComprasGov }

// fetchPage tries the licitação module first and the legacy compra module
// when it fails. Both failing is a page error.
func (c *ComprasGov) fetchPage(ctx context.Context, params url.Values) (json.RawMessage, string, error) {
	raw, err := c.client.GetJSON(ctx, comprasGovPrimaryPath, params)
	if err == nil {
		return raw, comprasGovPrimaryPath, nil
	}
	primaryErr := err
	zap.L().Warn("compras_gov: primary endpoint failed, trying legacy",
		zap.String("page", params.Get("pagina")), zap.Error(primaryErr))

	raw, err = c.client.GetJSON(ctx, comprasGovLegacyPath, params)
	if err != nil {
		return nil, comprasGovLegacyPath, eris.Wrapf(err, "compras_gov: both endpoints failed (primary: %v)", primaryErr)
	}
	return raw, comprasGovLegacyPath, nil
}

// FetchOpportunities pages through the date range. Compras.gov has no
// modality or UF parameters; the keyword filter runs after fetching.
func (c *ComprasGov) FetchOpportunities(ctx context.Context, q Query) (*FetchResult, error) {
	res := &FetchResult{}
	log := zap.L().With(zap.String("source", "compras_gov"))

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "compras_gov: fetch opportunities")
		}

		params := url.Values{}
		params.Set("dataInicial", q.From.Format("2006-01-02"))
		params.Set("dataFinal", q.To.Format("2006-01-02"))
		params.Set("pagina", strconv.Itoa(page))
		params.Set("tamanhoPagina", strconv.Itoa(c.pageSize))

		raw, endpoint, err := c.fetchPage(ctx, params)
		var list []json.RawMessage
		var obj map[string]json.RawMessage
		if err == nil {
			list, obj, err = listEnvelope(raw, "data", "resultado")
		}
		if err != nil {
			log.Warn("compras_gov: page failed", zap.Int("page", page), zap.Error(err))
			res.PageErrors = append(res.PageErrors, PageError{Endpoint: endpoint, Page: page, Err: err.Error()})
			break
		}
		if len(list) == 0 {
			break
		}

		for _, elem := range list {
			norm, mapErr := MapComprasGov(elem)
			if mapErr != nil {
				log.Warn("compras_gov: skipping unmappable record", zap.Error(mapErr))
				continue
			}
			res.Opportunities = append(res.Opportunities, norm)
		}

		pages := 1
		if obj != nil {
			pages = totalPages(obj)
		}
		if page >= pages {
			break
		}
		if q.MaxPages > 0 && page >= q.MaxPages {
			break
		}
	}

	res.Opportunities = filterKeyword(res.Opportunities, q.Keyword)
	log.Info("compras_gov: fetched opportunities",
		zap.Int("count", len(res.Opportunities)),
		zap.String("from", q.From.Format("2006-01-02")), zap.String("to", q.To.Format("2006-01-02")))
	return res, nil
}

// FetchItems returns nothing: the open data API exposes no item endpoint
// for licitações.
func (c *ComprasGov) FetchItems(context.Context, model.NormalizedOpportunity) ([]model.ItemInput, error) {
	return nil, nil
}

// FetchDocuments surfaces the notice link as the edital.
func (c *ComprasGov) FetchDocuments(_ context.Context, opp model.NormalizedOpportunity) ([]model.DocumentRef, error) {
	if opp.Link == "" {
		return nil, nil
	}
	return []model.DocumentRef{{URL: opp.Link, FileName: "edital.pdf", DocType: "edital"}}, nil
}
