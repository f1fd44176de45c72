// Package model defines the procurement entities persisted by the store and
// exchanged between connectors, the document pipeline and analysis.
package model

// Source is the government system an opportunity was ingested from.
type Source string

const (
	SourcePNCP       Source = "pncp"
	SourceComprasGov Source = "compras_gov"
	SourceManual     Source = "manual"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourcePNCP, SourceComprasGov, SourceManual:
		return true
	}
	return false
}

// Modality is the canonical procurement modality.
type Modality string

const (
	ModalityPregaoEletronico       Modality = "pregao_eletronico"
	ModalityPregaoPresencial       Modality = "pregao_presencial"
	ModalityConcorrenciaEletronica Modality = "concorrencia_eletronica"
	ModalityConcorrenciaPresencial Modality = "concorrencia_presencial"
	ModalityDispensa               Modality = "dispensa"
	ModalityInexigibilidade        Modality = "inexigibilidade"
	ModalityCredenciamento         Modality = "credenciamento"
	ModalityLeilao                 Modality = "leilao"
	ModalityDialogoCompetitivo     Modality = "dialogo_competitivo"
	ModalityConcurso               Modality = "concurso"
	ModalityOther                  Modality = "other"
)

// Modalities lists every canonical modality.
var Modalities = []Modality{
	ModalityPregaoEletronico, ModalityPregaoPresencial,
	ModalityConcorrenciaEletronica, ModalityConcorrenciaPresencial,
	ModalityDispensa, ModalityInexigibilidade, ModalityCredenciamento,
	ModalityLeilao, ModalityDialogoCompetitivo, ModalityConcurso, ModalityOther,
}

// Valid reports whether m is a canonical modality.
func (m Modality) Valid() bool {
	for _, v := range Modalities {
		if v == m {
			return true
		}
	}
	return false
}

var modalityLabels = map[Modality]string{
	ModalityPregaoEletronico:       "Pregão Eletrônico",
	ModalityPregaoPresencial:       "Pregão Presencial",
	ModalityConcorrenciaEletronica: "Concorrência Eletrônica",
	ModalityConcorrenciaPresencial: "Concorrência Presencial",
	ModalityDispensa:               "Dispensa",
	ModalityInexigibilidade:        "Inexigibilidade",
	ModalityCredenciamento:         "Credenciamento",
	ModalityLeilao:                 "Leilão",
	ModalityDialogoCompetitivo:     "Diálogo Competitivo",
	ModalityConcurso:               "Concurso",
	ModalityOther:                  "Outra",
}

// Label is the display name used in prompts and listings.
func (m Modality) Label() string {
	if l, ok := modalityLabels[m]; ok {
		return l
	}
	return string(m)
}

// RequirementCategory groups habilitação requirements.
type RequirementCategory string

const (
	CategoryFiscal    RequirementCategory = "fiscal"
	CategoryJuridica  RequirementCategory = "juridica"
	CategoryTecnica   RequirementCategory = "tecnica"
	CategoryEconomica RequirementCategory = "economica"
	CategoryGeneral   RequirementCategory = "general"
)

// ChecklistCategories are the checklist sections extraction reads, in order.
var ChecklistCategories = []RequirementCategory{CategoryFiscal, CategoryJuridica, CategoryTecnica, CategoryEconomica}

// AnalysisType selects which LLM stages run for an opportunity.
type AnalysisType string

const (
	AnalysisSummary   AnalysisType = "summary"
	AnalysisChecklist AnalysisType = "checklist"
	AnalysisRisks     AnalysisType = "risks"
	AnalysisFull      AnalysisType = "full"
)

// ParseAnalysisType validates s, defaulting an empty value to full.
func ParseAnalysisType(s string) (AnalysisType, bool) {
	switch t := AnalysisType(s); t {
	case "":
		return AnalysisFull, true
	case AnalysisSummary, AnalysisChecklist, AnalysisRisks, AnalysisFull:
		return t, true
	}
	return "", false
}

// RunsExtraction reports whether t includes the structured extraction stage.
func (t AnalysisType) RunsExtraction() bool {
	return t == AnalysisFull || t == AnalysisChecklist || t == AnalysisRisks
}

// RunsSummary reports whether t includes the executive summary stage.
func (t AnalysisType) RunsSummary() bool {
	return t == AnalysisFull || t == AnalysisSummary
}
