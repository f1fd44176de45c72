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
	pncpPublicationsPath = "/v1/contratacoes/publicacao"
	// PNCPMaxPageSize is the server-side ceiling; larger values return 400.
	PNCPMaxPageSize = 50
)

var pncpModalities = map[int]model.Modality{
	1:  model.ModalityLeilao,
	2:  model.ModalityDialogoCompetitivo,
	3:  model.ModalityConcurso,
	4:  model.ModalityConcorrenciaEletronica,
	5:  model.ModalityConcorrenciaPresencial,
	6:  model.ModalityPregaoEletronico,
	7:  model.ModalityPregaoPresencial,
	8:  model.ModalityDispensa,
	9:  model.ModalityInexigibilidade,
	10: model.ModalityOther,
	11: model.ModalityOther,
	12: model.ModalityCredenciamento,
	13: model.ModalityLeilao,
}

// DefaultPNCPModalities are the codes fetched when none are requested:
// electronic pregão, electronic concorrência, dispensa, in-person
// concorrência, inexigibilidade and credenciamento.
var DefaultPNCPModalities = []int{6, 4, 8, 5, 9, 12}

// AllPNCPModalities lists every PNCP modality code.
var AllPNCPModalities = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}

// PNCPModality maps a PNCP modalidadeId to the canonical modality.
// Unknown codes map to other.
func PNCPModality(code int) model.Modality {
	if m, ok := pncpModalities[code]; ok {
		return m
	}
	return model.ModalityOther
}

type pncpRecord struct {
	OrgaoEntidade struct {
		CNPJ        string `json:"cnpj"`
		RazaoSocial string `json:"razaoSocial"`
		UF          string `json:"uf"`
	} `json:"orgaoEntidade"`
	UnidadeOrgao struct {
		UFSigla       string `json:"ufSigla"`
		MunicipioNome string `json:"municipioNome"`
	} `json:"unidadeOrgao"`
	AnoCompra                flexString `json:"anoCompra"`
	SequencialCompra         flexString `json:"sequencialCompra"`
	ModalidadeID             int        `json:"modalidadeId"`
	ObjetoCompra             string     `json:"objetoCompra"`
	InformacaoComplementar   string     `json:"informacaoComplementar"`
	NumeroCompra             flexString `json:"numeroCompra"`
	NumeroProcesso           flexString `json:"numeroProcesso"`
	DataPublicacaoPncp       string     `json:"dataPublicacaoPncp"`
	DataAberturaProposta     string     `json:"dataAberturaProposta"`
	DataEncerramentoProposta string     `json:"dataEncerramentoProposta"`
	ValorTotalEstimado       flexFloat  `json:"valorTotalEstimado"`
	ValorTotalHomologado     flexFloat  `json:"valorTotalHomologado"`
	SRP                      bool       `json:"srp"`
	LinkSistemaOrigem        string     `json:"linkSistemaOrigem"`
}

func (r *pncpRecord) purchaseKey() (cnpj, year, seq string) {
	return r.OrgaoEntidade.CNPJ, string(r.AnoCompra), string(r.SequencialCompra)
}

// MapPNCP maps one /contratacoes/publicacao record.
func MapPNCP(raw json.RawMessage) (model.NormalizedOpportunity, error) {
	var r pncpRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.NormalizedOpportunity{}, eris.Wrap(err, "pncp: decode record")
	}

	cnpj, year, seq := r.purchaseKey()
	uf := r.UnidadeOrgao.UFSigla
	if uf == "" {
		uf = r.OrgaoEntidade.UF
	}
	return model.NormalizedOpportunity{
		Source:         model.SourcePNCP,
		ExternalID:     "pncp:" + cnpj + ":" + year + ":" + seq,
		Title:          r.ObjetoCompra,
		Description:    r.InformacaoComplementar,
		Modality:       PNCPModality(r.ModalidadeID),
		Number:         string(r.NumeroCompra),
		ProcessNumber:  string(r.NumeroProcesso),
		EntityCNPJ:     cnpj,
		EntityName:     r.OrgaoEntidade.RazaoSocial,
		EntityUF:       uf,
		EntityCity:     r.UnidadeOrgao.MunicipioNome,
		PublishedAt:    r.DataPublicacaoPncp,
		OpeningAt:      r.DataAberturaProposta,
		ClosingAt:      r.DataEncerramentoProposta,
		EstimatedValue: r.ValorTotalEstimado.v,
		AwardedValue:   r.ValorTotalHomologado.v,
		IsSRP:          r.SRP,
		Link:           r.LinkSistemaOrigem,
		RawData:        raw,
	}, nil
}

type pncpItem struct {
	NumeroItem            *int       `json:"numeroItem"`
	Descricao             string     `json:"descricao"`
	Quantidade            flexFloat  `json:"quantidade"`
	UnidadeMedida         string     `json:"unidadeMedida"`
	ValorUnitarioEstimado flexFloat  `json:"valorUnitarioEstimado"`
	ValorTotal            flexFloat  `json:"valorTotal"`
	MaterialOuServico     flexString `json:"materialOuServico"`
}

// MapPNCPItems maps an /itens response, which is either a bare list or an
// envelope under data or itens. Items without numeroItem are numbered by
// position starting at 1.
func MapPNCPItems(raw json.RawMessage) ([]model.ItemInput, error) {
	list, _, err := listEnvelope(raw, "data", "itens")
	if err != nil {
		return nil, eris.Wrap(err, "pncp: decode items")
	}

	out := make([]model.ItemInput, 0, len(list))
	for i, elem := range list {
		var it pncpItem
		if err := json.Unmarshal(elem, &it); err != nil {
			zap.L().Warn("pncp: skipping malformed item", zap.Int("position", i), zap.Error(err))
			continue
		}
		num := i + 1
		if it.NumeroItem != nil {
			num = *it.NumeroItem
		}
		out = append(out, model.ItemInput{
			ItemNumber:         num,
			Description:        it.Descricao,
			Quantity:           it.Quantidade.v,
			Unit:               it.UnidadeMedida,
			EstimatedUnitPrice: it.ValorUnitarioEstimado.v,
			EstimatedTotal:     it.ValorTotal.v,
			MaterialOrService:  string(it.MaterialOuServico),
			RawData:            elem,
		})
	}
	return out, nil
}

type pncpFile struct {
	URI               string `json:"uri"`
	URL               string `json:"url"`
	NomeArquivo       string `json:"nomeArquivo"`
	Titulo            string `json:"titulo"`
	TipoDocumentoNome string `json:"tipoDocumentoNome"`
}

// MapPNCPDocuments maps an /arquivos response.
func MapPNCPDocuments(raw json.RawMessage) ([]model.DocumentRef, error) {
	list, _, err := listEnvelope(raw, "data")
	if err != nil {
		return nil, eris.Wrap(err, "pncp: decode documents")
	}

	out := make([]model.DocumentRef, 0, len(list))
	for _, elem := range list {
		var f pncpFile
		if err := json.Unmarshal(elem, &f); err != nil {
			continue
		}
		u := f.URI
		if u == "" {
			u = f.URL
		}
		name := f.NomeArquivo
		if name == "" {
			name = f.Titulo
		}
		out = append(out, model.DocumentRef{URL: u, FileName: name, DocType: f.TipoDocumentoNome})
	}
	return out, nil
}

// PNCP reads the Portal Nacional de Contratações Públicas.
type PNCP struct {
	client   fetcher.JSONGetter
	pageSize int
}

// NewPNCP builds the connector. pageSize is clamped to PNCPMaxPageSize.
func NewPNCP(client fetcher.JSONGetter, pageSize int) *PNCP {
	return &PNCP{client: client, pageSize: clampPageSize(pageSize, PNCPMaxPageSize)}
}

func (p *PNCP) Name() model.Source { return model.SourcePNCP }

// FetchOpportunities pages through publications per modality. A failed page
// is recorded and skipped; when the first page of a modality fails the
// page count is unknown, so that modality stops.
func (p *PNCP) FetchOpportunities(ctx context.Context, q Query) (*FetchResult, error) {
	modalities := q.Modalities
	if len(modalities) == 0 {
		modalities = DefaultPNCPModalities
	}
	log := zap.L().With(zap.String("source", "pncp"),
		zap.String("from", q.From.Format("2006-01-02")), zap.String("to", q.To.Format("2006-01-02")))

	res := &FetchResult{}
	for _, mod := range modalities {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "pncp: fetch opportunities")
		}

		pages := 0
		for page := 1; ; page++ {
			params := url.Values{}
			params.Set("dataInicial", q.From.Format("20060102"))
			params.Set("dataFinal", q.To.Format("20060102"))
			params.Set("codigoModalidadeContratacao", strconv.Itoa(mod))
			params.Set("pagina", strconv.Itoa(page))
			params.Set("tamanhoPagina", strconv.Itoa(p.pageSize))
			if q.UF != "" {
				params.Set("uf", strings.ToUpper(q.UF))
			}

			raw, err := p.client.GetJSON(ctx, pncpPublicationsPath, params)
			if err == nil {
				var list []json.RawMessage
				var obj map[string]json.RawMessage
				list, obj, err = listEnvelope(raw, "data")
				if err == nil {
					if len(list) == 0 {
						break
					}
					if page == 1 {
						pages = totalPages(obj)
						log.Info("pncp: modality pages",
							zap.Int("modality", mod), zap.String("modality_name", string(PNCPModality(mod))),
							zap.Int("pages", pages), zap.ByteString("records", obj["totalRegistros"]))
					}
					for _, elem := range list {
						norm, mapErr := MapPNCP(elem)
						if mapErr != nil {
							log.Warn("pncp: skipping unmappable record", zap.Error(mapErr))
							continue
						}
						res.Opportunities = append(res.Opportunities, norm)
					}
				}
			}
			if err != nil {
				log.Warn("pncp: page failed", zap.Int("modality", mod), zap.Int("page", page), zap.Error(err))
				res.PageErrors = append(res.PageErrors, PageError{
					Endpoint: pncpPublicationsPath, Modality: mod, Page: page, Err: err.Error(),
				})
				if pages == 0 || ctx.Err() != nil {
					break
				}
			}

			if page >= pages {
				break
			}
			if q.MaxPages > 0 && page >= q.MaxPages {
				log.Info("pncp: max pages reached", zap.Int("modality", mod), zap.Int("page", page), zap.Int("pages", pages))
				break
			}
		}
	}

	res.Opportunities = filterKeyword(res.Opportunities, q.Keyword)
	log.Info("pncp: fetched opportunities", zap.Int("count", len(res.Opportunities)), zap.Int("page_errors", len(res.PageErrors)))
	return res, nil
}

func purchasePath(opp model.NormalizedOpportunity, suffix string) (string, bool) {
	var r pncpRecord
	if err := json.Unmarshal(opp.RawData, &r); err != nil {
		return "", false
	}
	cnpj, year, seq := r.purchaseKey()
	if cnpj == "" || year == "" || seq == "" {
		return "", false
	}
	return "/v1/orgaos/" + url.PathEscape(cnpj) + "/compras/" + url.PathEscape(year) + "/" + url.PathEscape(seq) + suffix, true
}

// FetchItems lists the purchase's line items. Opportunities without a full
// purchase key have none.
func (p *PNCP) FetchItems(ctx context.Context, opp model.NormalizedOpportunity) ([]model.ItemInput, error) {
	path, ok := purchasePath(opp, "/itens")
	if !ok {
		return nil, nil
	}
	raw, err := p.client.GetJSON(ctx, path, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "pncp: fetch items for %s", opp.ExternalID)
	}
	return MapPNCPItems(raw)
}

// FetchDocuments lists the purchase's attached files.
func (p *PNCP) FetchDocuments(ctx context.Context, opp model.NormalizedOpportunity) ([]model.DocumentRef, error) {
	path, ok := purchasePath(opp, "/arquivos")
	if !ok {
		return nil, nil
	}
	raw, err := p.client.GetJSON(ctx, path, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "pncp: fetch documents for %s", opp.ExternalID)
	}
	return MapPNCPDocuments(raw)
}
