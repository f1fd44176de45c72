package connector

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/licita-cli/internal/model"
)

func TestComprasGovModality(t *testing.T) {
	tests := []struct {
		in   string
		want model.Modality
	}{
		{"Pregão Eletrônico", model.ModalityPregaoEletronico},
		{"PREGAO ELETRONICO", model.ModalityPregaoEletronico},
		{"Pregão Presencial", model.ModalityPregaoPresencial},
		{"pregao", model.ModalityPregaoPresencial},
		{"Concorrência", model.ModalityConcorrenciaEletronica},
		{"concorrencia publica", model.ModalityConcorrenciaEletronica},
		{"Dispensa de Licitação", model.ModalityDispensa},
		{"Inexigibilidade", model.ModalityInexigibilidade},
		{"Tomada de Preços", model.ModalityOther},
		{"", model.ModalityOther},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ComprasGovModality(tt.in))
		})
	}
}

func TestMapComprasGov_LicitacaoFields(t *testing.T) {
	list, _, err := listEnvelope(fixture(t, "compras_licitacoes.json"), "data", "resultado")
	require.NoError(t, err)

	opp, err := MapComprasGov(list[0])
	require.NoError(t, err)

	assert.Equal(t, model.SourceComprasGov, opp.Source)
	assert.Equal(t, "compras_gov:987654", opp.ExternalID)
	assert.Equal(t, "Contratação de serviços de manutenção predial", opp.Title)
	assert.Equal(t, model.ModalityPregaoEletronico, opp.Modality)
	assert.Equal(t, "00012/2024", opp.Number)
	assert.Equal(t, "23000.001234/2024-55", opp.ProcessNumber)
	assert.Equal(t, "00394445000166", opp.EntityCNPJ)
	assert.Equal(t, "Ministério da Educação", opp.EntityName)
	assert.Equal(t, "DF", opp.EntityUF)
	assert.Equal(t, "Brasília", opp.EntityCity)
	assert.Equal(t, "2024-04-10", opp.PublishedAt)
	assert.Equal(t, "2024-04-25T09:00:00", opp.OpeningAt)
	assert.Empty(t, opp.ClosingAt)
	require.NotNil(t, opp.EstimatedValue)
	assert.InDelta(t, 350000.0, *opp.EstimatedValue, 1e-9)
	assert.Nil(t, opp.AwardedValue)
	assert.False(t, opp.IsSRP)
	assert.Equal(t, "https://cnetmobile.estaleiro.serpro.gov.br/edital/987654.pdf", opp.Link)
}

func TestMapComprasGov_CompraFallbackFields(t *testing.T) {
	list, _, err := listEnvelope(fixture(t, "compras_licitacoes.json"), "data", "resultado")
	require.NoError(t, err)

	opp, err := MapComprasGov(list[1])
	require.NoError(t, err)

	assert.Equal(t, "compras_gov:3", opp.ExternalID)
	assert.Equal(t, "Aquisição de material de expediente", opp.Title)
	assert.Equal(t, model.ModalityDispensa, opp.Modality)
	assert.Equal(t, "123/2024", opp.ProcessNumber)
	assert.Equal(t, "12345678000190", opp.EntityCNPJ)
	assert.Equal(t, "UASG 158123", opp.EntityName)
	assert.Equal(t, "MG", opp.EntityUF)
	assert.Equal(t, "Belo Horizonte", opp.EntityCity)
	assert.Equal(t, "2024-04-11T00:00:00", opp.PublishedAt)
	assert.Equal(t, "2024-04-18", opp.ClosingAt)
	require.NotNil(t, opp.EstimatedValue)
	assert.InDelta(t, 12000.5, *opp.EstimatedValue, 1e-9)
	assert.Equal(t, "https://compras.gov.br/compra/3", opp.Link)
}

func TestMapComprasGov_InvalidJSON(t *testing.T) {
	_, err := MapComprasGov(json.RawMessage(`[1,2`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compras_gov: decode record")
}

func TestComprasGov_ClampsPageSize(t *testing.T) {
	assert.Equal(t, ComprasGovMaxPageSize, NewComprasGov(nil, 5000).pageSize)
	assert.Equal(t, 100, NewComprasGov(nil, 100).pageSize)
}

func TestComprasGov_FetchOpportunities_Primary(t *testing.T) {
	page := fixture(t, "compras_licitacoes.json")
	g := &fakeGetter{handler: func(path string, _ url.Values) (json.RawMessage, error) {
		if path == comprasGovPrimaryPath {
			return page, nil
		}
		return nil, errBoom
	}}

	from := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC)
	res, err := NewComprasGov(g, 500).FetchOpportunities(context.Background(), Query{From: from, To: to})
	require.NoError(t, err)
	assert.Len(t, res.Opportunities, 2)
	assert.Empty(t, res.PageErrors)

	calls := g.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "2024-04-01", calls[0].Params.Get("dataInicial"))
	assert.Equal(t, "2024-04-30", calls[0].Params.Get("dataFinal"))
	assert.Equal(t, "500", calls[0].Params.Get("tamanhoPagina"))
}

func TestComprasGov_FetchOpportunities_LegacyFallback(t *testing.T) {
	g := &fakeGetter{handler: func(path string, _ url.Values) (json.RawMessage, error) {
		if path == comprasGovLegacyPath {
			return json.RawMessage(`[{"id":"1","objetoCompra":"papel"}]`), nil
		}
		return nil, errBoom
	}}

	res, err := NewComprasGov(g, 500).FetchOpportunities(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, res.Opportunities, 1)
	assert.Equal(t, "compras_gov:1", res.Opportunities[0].ExternalID)

	calls := g.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, comprasGovPrimaryPath, calls[0].Path)
	assert.Equal(t, comprasGovLegacyPath, calls[1].Path)
}

func TestComprasGov_FetchOpportunities_BothEndpointsFail(t *testing.T) {
	g := &fakeGetter{handler: func(string, url.Values) (json.RawMessage, error) { return nil, errBoom }}

	res, err := NewComprasGov(g, 500).FetchOpportunities(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, res.Opportunities)
	require.Len(t, res.PageErrors, 1)
	assert.Equal(t, comprasGovLegacyPath, res.PageErrors[0].Endpoint)
	assert.Contains(t, res.PageErrors[0].Err, "both endpoints failed")
}

func TestComprasGov_FetchOpportunities_Paginates(t *testing.T) {
	g := &fakeGetter{handler: func(_ string, params url.Values) (json.RawMessage, error) {
		return json.RawMessage(`{"data":[{"id":"` + params.Get("pagina") + `","objeto":"x"}],"totalPaginas":3}`), nil
	}}

	res, err := NewComprasGov(g, 500).FetchOpportunities(context.Background(), Query{MaxPages: 2})
	require.NoError(t, err)
	assert.Len(t, res.Opportunities, 2)
	assert.Len(t, g.Calls(), 2)
}

func TestComprasGov_FetchItemsAndDocuments(t *testing.T) {
	c := NewComprasGov(nil, 500)

	items, err := c.FetchItems(context.Background(), model.NormalizedOpportunity{})
	require.NoError(t, err)
	assert.Nil(t, items)

	docs, err := c.FetchDocuments(context.Background(), model.NormalizedOpportunity{Link: "https://x/edital"})
	require.NoError(t, err)
	assert.Equal(t, []model.DocumentRef{{URL: "https://x/edital", FileName: "edital.pdf", DocType: "edital"}}, docs)

	docs, err = c.FetchDocuments(context.Background(), model.NormalizedOpportunity{})
	require.NoError(t, err)
	assert.Nil(t, docs)
}
