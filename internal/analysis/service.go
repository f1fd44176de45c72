package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/cost"
	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/normalize"
	"github.com/sells-group/licita-cli/internal/retrieval"
	"github.com/sells-group/licita-cli/internal/store"
)

const (
	DefaultExtractionTopK = 15
	noChunksText          = "(Nenhum documento indexado ainda. Análise baseada apenas nos metadados da API.)"
	matchParseFailure     = "Erro ao processar resposta da IA"
)

// Store is the persistence analysis needs.
type Store interface {
	GetOpportunity(ctx context.Context, id uuid.UUID) (*model.Opportunity, error)
	TransitionOpportunityStatus(ctx context.Context, id uuid.UUID, from, to model.OpportunityStatus) (bool, error)
	ReplaceRequirements(ctx context.Context, opportunityID uuid.UUID, reqs []model.ExtractedRequirement) error
	ListRequirements(ctx context.Context, opportunityID uuid.UUID) ([]model.ExtractedRequirement, error)
	CreateSummary(ctx context.Context, s *model.AISummary) error
	LatestSummary(ctx context.Context, opportunityID uuid.UUID, analysisType model.AnalysisType) (*model.AISummary, error)
	GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error)
	UpsertMatch(ctx context.Context, m *model.Match) error
}

// Searcher retrieves document excerpts for an opportunity.
type Searcher interface {
	Search(ctx context.Context, query string, opportunityID *uuid.UUID, topK int) ([]model.ScoredChunk, error)
}

// Service runs the analysis stages for one opportunity at a time.
type Service struct {
	store    Store
	searcher Searcher
	llm      LLM
	prompts  *Catalog
	costs    *cost.Calculator
	topK     int
	now      func() time.Time
}

// NewService creates a Service. topK <= 0 uses DefaultExtractionTopK.
func NewService(s Store, searcher Searcher, llm LLM, prompts *Catalog, topK int) *Service {
	if topK <= 0 {
		topK = DefaultExtractionTopK
	}
	return &Service{
		store:    s,
		searcher: searcher,
		llm:      llm,
		prompts:  prompts,
		costs:    cost.NewCalculator(cost.DefaultRates()),
		topK:     topK,
		now:      time.Now,
	}
}

// Result is what one Run produced.
type Result struct {
	OpportunityID uuid.UUID
	AnalysisType  model.AnalysisType
	Extraction    *model.AISummary
	Summary       *model.AISummary
	// Degraded is set when an LLM answer could not be parsed as JSON.
	Degraded bool
}

// Run executes the stages selected by analysisType: extraction for full,
// checklist and risks; the executive summary for full and summary.
func (s *Service) Run(ctx context.Context, opportunityID uuid.UUID, analysisType model.AnalysisType) (*Result, error) {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: get opportunity")
	}

	res := &Result{OpportunityID: opportunityID, AnalysisType: analysisType}
	if analysisType.RunsExtraction() {
		sum, ok, err := s.RunExtraction(ctx, opp)
		if err != nil {
			return nil, err
		}
		res.Extraction = sum
		res.Degraded = !ok
	}
	if analysisType.RunsSummary() {
		sum, err := s.RunSummary(ctx, opp)
		if err != nil {
			return nil, err
		}
		res.Summary = sum
	}

	zap.L().Info("analysis complete",
		zap.String("opportunity_id", opportunityID.String()),
		zap.String("analysis_type", string(analysisType)),
		zap.Bool("degraded", res.Degraded),
	)
	return res, nil
}

// RunExtraction retrieves the top excerpts for the opportunity title, asks
// for the structured checklist and stores the answer as a full analysis.
// Requirements are replaced only when the answer parsed; ok is false for a
// degraded answer, which is still stored.
func (s *Service) RunExtraction(ctx context.Context, opp *model.Opportunity) (*model.AISummary, bool, error) {
	chunks, err := s.searcher.Search(ctx, opp.Title, &opp.ID, s.topK)
	if err != nil {
		return nil, false, eris.Wrap(err, "analysis: retrieve excerpts")
	}
	excerpts := retrieval.Context(chunks)
	if excerpts == "" {
		excerpts = noChunksText
	}

	prompt, err := s.prompts.Extraction.Render(ExtractionVars{
		APIMetadata:    prettyJSON(extractionMetadata(opp)),
		DocumentChunks: excerpts,
	}, true)
	if err != nil {
		return nil, false, err
	}

	start := s.now()
	comp, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, false, eris.Wrap(err, "analysis: extraction")
	}
	elapsed := s.now().Sub(start)

	data, ok := ParseJSON(comp.Text)
	if !ok {
		zap.L().Warn("extraction answer is not valid JSON",
			zap.String("opportunity_id", opp.ID.String()),
			zap.String("answer", normalize.Truncate(comp.Text, 200)),
		)
	} else if err := s.store.ReplaceRequirements(ctx, opp.ID, Requirements(opp.ID, data)); err != nil {
		return nil, false, eris.Wrap(err, "analysis: replace requirements")
	}

	sum, err := s.saveSummary(ctx, opp.ID, model.AnalysisFull, data, comp, elapsed)
	if err != nil {
		return nil, false, err
	}
	zap.L().Info("extraction complete",
		zap.String("opportunity_id", opp.ID.String()),
		zap.Int("excerpts", len(chunks)),
		zap.Int("tokens", comp.Tokens()),
		zap.Float64("cost_usd", s.cost(comp)),
		zap.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
	return sum, ok, nil
}

// RunSummary writes the executive summary from the stored requirements and
// the risks of the latest full analysis.
func (s *Service) RunSummary(ctx context.Context, opp *model.Opportunity) (*model.AISummary, error) {
	reqs, err := s.store.ListRequirements(ctx, opp.ID)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: list requirements")
	}
	type reqView struct {
		Category    model.RequirementCategory `json:"category"`
		Requirement string                    `json:"requirement"`
	}
	views := make([]reqView, len(reqs))
	for i, r := range reqs {
		views[i] = reqView{Category: r.Category, Requirement: r.Requirement}
	}

	risks := any([]any{})
	if latest, err := s.latestFull(ctx, opp.ID); err != nil {
		return nil, err
	} else if latest != nil {
		if r, ok := latest["riscos"]; ok {
			risks = r
		}
	}

	prompt, err := s.prompts.Summary.Render(SummaryVars{
		APIMetadata:  prettyJSON(summaryMetadata(opp)),
		Requirements: compactJSON(views),
		Risks:        compactJSON(risks),
	}, false)
	if err != nil {
		return nil, err
	}

	start := s.now()
	comp, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: summary")
	}
	return s.saveSummary(ctx, opp.ID, model.AnalysisSummary, map[string]any{"text": comp.Text}, comp, s.now().Sub(start))
}

// Match scores a client against an opportunity and upserts the result for
// the pair. An unparseable answer scores 0.
func (s *Service) Match(ctx context.Context, opportunityID, clientID uuid.UUID) (*model.Match, error) {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: get opportunity")
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: get client")
	}

	checklist := "{}"
	if latest, err := s.latestFull(ctx, opp.ID); err != nil {
		return nil, err
	} else if c, ok := latest["checklist_habilitacao"]; ok {
		checklist = prettyJSON(c)
	}

	prompt, err := s.prompts.Matching.Render(MatchingVars{
		ClientProfile:           prettyJSON(clientProfile(client)),
		OpportunityRequirements: prettyJSON(matchingMetadata(opp)),
		Checklist:               checklist,
	}, true)
	if err != nil {
		return nil, err
	}

	comp, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: matching")
	}

	data, ok := ParseJSON(comp.Text)
	if !ok {
		zap.L().Warn("matching answer is not valid JSON",
			zap.String("opportunity_id", opp.ID.String()),
			zap.String("client_id", client.ID.String()),
		)
		data = map[string]any{"score": 0, "justificativa": matchParseFailure}
	}

	m := &model.Match{
		OpportunityID:       opp.ID,
		ClientID:            client.ID,
		Score:               model.ClampScore(number(data["score"])),
		Justification:       str(data["justificativa"]),
		MissingDocs:         stringList(data["documentos_faltantes"]),
		MissingCapabilities: stringList(data["competencias_faltantes"]),
		Evidence:            stringList(data["evidencias"]),
		PromptVersion:       s.prompts.Version,
		ModelUsed:           comp.Model,
	}
	if err := s.store.UpsertMatch(ctx, m); err != nil {
		return nil, eris.Wrap(err, "analysis: upsert match")
	}

	zap.L().Info("match scored",
		zap.String("opportunity_id", opp.ID.String()),
		zap.String("client", client.Name),
		zap.Int("score", m.Score),
		zap.Int("tokens", comp.Tokens()),
		zap.Float64("cost_usd", s.cost(comp)),
	)
	return m, nil
}

// BeginAnalysis moves a new opportunity to analyzing and returns the status
// it had before, for Revert.
func (s *Service) BeginAnalysis(ctx context.Context, opportunityID uuid.UUID) (model.OpportunityStatus, error) {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return "", eris.Wrap(err, "analysis: get opportunity")
	}
	prev := opp.Status
	if prev == model.StatusNew {
		if _, err := s.store.TransitionOpportunityStatus(ctx, opportunityID, model.StatusNew, model.StatusAnalyzing); err != nil {
			return prev, eris.Wrap(err, "analysis: mark analyzing")
		}
	}
	return prev, nil
}

// Revert restores prev after analysis retries are exhausted. It only ever
// moves an opportunity out of analyzing.
func (s *Service) Revert(ctx context.Context, opportunityID uuid.UUID, prev model.OpportunityStatus) (bool, error) {
	to, ok := model.StatusAnalyzing.Revert(prev)
	if !ok {
		return false, nil
	}
	moved, err := s.store.TransitionOpportunityStatus(ctx, opportunityID, model.StatusAnalyzing, to)
	if err != nil {
		return false, eris.Wrap(err, "analysis: revert status")
	}
	if moved {
		zap.L().Warn("reverted opportunity status",
			zap.String("opportunity_id", opportunityID.String()),
			zap.String("status", string(to)),
		)
	}
	return moved, nil
}

func (s *Service) latestFull(ctx context.Context, oppID uuid.UUID) (map[string]any, error) {
	latest, err := s.store.LatestSummary(ctx, oppID, model.AnalysisFull)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "analysis: latest full analysis")
	}
	return latest.Fields(), nil
}

// cost estimates the spend of one completion.
func (s *Service) cost(comp *Completion) float64 {
	return s.costs.Completion(comp.Model, comp.InputTokens, comp.OutputTokens)
}

func (s *Service) saveSummary(ctx context.Context, oppID uuid.UUID, t model.AnalysisType, data map[string]any, comp *Completion, elapsed time.Duration) (*model.AISummary, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: encode summary")
	}
	sum := &model.AISummary{
		OpportunityID: oppID,
		AnalysisType:  t,
		Content:       content,
		PromptVersion: s.prompts.Version,
		ModelUsed:     comp.Model,
		TokensUsed:    comp.Tokens(),
		ElapsedMs:     elapsed.Milliseconds(),
	}
	if err := s.store.CreateSummary(ctx, sum); err != nil {
		return nil, eris.Wrap(err, "analysis: create summary")
	}
	return sum, nil
}

// Requirements flattens checklist_habilitacao into requirement rows, one
// per item of the four checklist categories. Items without a "requisito"
// key keep their JSON text.
func Requirements(oppID uuid.UUID, data map[string]any) []model.ExtractedRequirement {
	checklist, _ := data["checklist_habilitacao"].(map[string]any)
	var out []model.ExtractedRequirement
	for _, cat := range model.ChecklistCategories {
		items, _ := checklist[string(cat)].([]any)
		for _, item := range items {
			req := model.ExtractedRequirement{
				OpportunityID: oppID,
				Category:      cat,
				Evidence:      "{}",
				IsMandatory:   true,
			}
			switch v := item.(type) {
			case map[string]any:
				if r, ok := v["requisito"].(string); ok {
					req.Requirement = r
				} else {
					req.Requirement = compactJSON(v)
				}
				if ev, ok := v["evidencia"]; ok && ev != nil {
					req.Evidence = compactJSON(ev)
				}
			default:
				req.Requirement = str(v)
			}
			if req.Requirement != "" {
				out = append(out, req)
			}
		}
	}
	return out
}

func extractionMetadata(o *model.Opportunity) map[string]any {
	return map[string]any{
		"objeto":            o.Title,
		"descricao":         o.Description,
		"modalidade":        o.Modality.Label(),
		"orgao":             o.EntityName,
		"cnpj_orgao":        o.EntityCNPJ,
		"uf":                o.EntityUF,
		"valor_estimado":    money(o.EstimatedValue),
		"data_abertura":     timeStr(o.OpeningAt),
		"data_encerramento": timeStr(o.ClosingAt),
		"srp":               o.IsSRP,
	}
}

func summaryMetadata(o *model.Opportunity) map[string]any {
	return map[string]any{
		"objeto":         o.Title,
		"orgao":          o.EntityName,
		"uf":             o.EntityUF,
		"modalidade":     o.Modality.Label(),
		"valor_estimado": money(o.EstimatedValue),
		"prazo":          timeStr(o.Deadline),
	}
}

func matchingMetadata(o *model.Opportunity) map[string]any {
	return map[string]any{
		"objeto":         o.Title,
		"descricao":      o.Description,
		"modalidade":     o.Modality.Label(),
		"orgao":          o.EntityName,
		"uf":             o.EntityUF,
		"valor_estimado": money(o.EstimatedValue),
		"prazo":          timeStr(o.Deadline),
		"srp":            o.IsSRP,
	}
}

func clientProfile(c *model.Client) map[string]any {
	docs := make([]map[string]any, len(c.Documents))
	for i, d := range c.Documents {
		docs[i] = map[string]any{
			"tipo":     d.DocType,
			"status":   d.Status,
			"validade": timeStr(d.ExpiresAt),
		}
	}
	maxValue := "sem limite"
	if c.MaxValue != nil {
		maxValue = money(c.MaxValue)
	}
	return map[string]any{
		"razao_social":           c.Name,
		"cnpj":                   c.CNPJ,
		"regioes":                nonNil(c.Regions),
		"palavras_chave":         nonNil(c.Keywords),
		"categorias":             nonNil(c.Categories),
		"margem_minima_pct":      money(c.MinMarginPct),
		"valor_maximo":           maxValue,
		"alcance_logistico":      c.LogisticsReach,
		"restricoes":             c.Restrictions,
		"documentos_disponiveis": docs,
	}
}

func prettyJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func money(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func timeStr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return compactJSON(v)
}

// stringList keeps string items and encodes structured ones as JSON.
func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := str(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
