package normalize

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/licita-cli/internal/model"
	"github.com/sells-group/licita-cli/internal/store"
)

// Column limits of the opportunities, items and documents tables.
const (
	maxExternalID    = 200
	maxModality      = 30
	maxNumber        = 100
	maxCNPJ          = 18
	maxEntityName    = 400
	maxUF            = 2
	maxCity          = 200
	maxLink          = 2000
	maxFileName      = 500
	maxDocType       = 100
	maxUnit          = 50
	maxMaterialOrSvc = 20
)

// Repository is the subset of the store the normalizer writes through.
type Repository interface {
	GetOpportunityByDedupHash(ctx context.Context, dedupHash string) (*model.Opportunity, error)
	FindObjectDuplicate(ctx context.Context, objectHash string, source model.Source, externalID string) (*model.Opportunity, error)
	CreateOpportunity(ctx context.Context, opp *model.Opportunity) (bool, error)
	CreateItem(ctx context.Context, item *model.OpportunityItem) error
	CreateDocument(ctx context.Context, doc *model.OpportunityDocument) error
}

// Normalizer persists connector records at most once per source record.
type Normalizer struct {
	repo Repository
}

// New creates a Normalizer.
func New(repo Repository) *Normalizer {
	return &Normalizer{repo: repo}
}

// Persist stores n unless a record with the same source and external id
// already exists, in which case the existing row is returned untouched and
// created is false. Item and document failures are logged and skipped.
func (n *Normalizer) Persist(ctx context.Context, in model.NormalizedOpportunity) (*model.Opportunity, bool, error) {
	dedup := DedupKey(in.Source, in.ExternalID)

	existing, err := n.repo.GetOpportunityByDedupHash(ctx, dedup)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, eris.Wrapf(err, "normalize: lookup %s", in.ExternalID)
	}

	opp := Build(in)
	opp.DedupHash = dedup

	if dup, err := n.repo.FindObjectDuplicate(ctx, opp.ObjectHash, opp.Source, opp.ExternalID); err == nil && dup != nil {
		zap.L().Info("normalize: cross-source duplicate detected",
			zap.String("external_id", opp.ExternalID),
			zap.String("duplicate_of", dup.ExternalID),
			zap.String("duplicate_source", string(dup.Source)),
		)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("normalize: cross-source check failed", zap.String("external_id", opp.ExternalID), zap.Error(err))
	}

	created, err := n.repo.CreateOpportunity(ctx, opp)
	if err != nil {
		return nil, false, eris.Wrapf(err, "normalize: create %s", opp.ExternalID)
	}
	if !created {
		// Another worker inserted the same record first.
		existing, err := n.repo.GetOpportunityByDedupHash(ctx, dedup)
		if err != nil {
			return nil, false, eris.Wrapf(err, "normalize: reload %s", opp.ExternalID)
		}
		return existing, false, nil
	}

	for _, it := range in.Items {
		item := buildItem(opp.ID, it)
		if err := n.repo.CreateItem(ctx, item); err != nil {
			zap.L().Warn("normalize: failed to persist item",
				zap.String("external_id", opp.ExternalID), zap.Int("item_number", it.ItemNumber), zap.Error(err))
		}
	}
	for _, ref := range in.Documents {
		doc := buildDocument(opp.ID, ref)
		if err := n.repo.CreateDocument(ctx, doc); err != nil {
			zap.L().Warn("normalize: failed to persist document",
				zap.String("external_id", opp.ExternalID), zap.String("url", ref.URL), zap.Error(err))
		}
	}

	zap.L().Debug("normalize: persisted opportunity",
		zap.String("external_id", opp.ExternalID), zap.String("source", string(opp.Source)))
	return opp, true, nil
}

// Build maps a connector record onto a new opportunity, applying column
// limits and lenient date parsing. The dedup hash is left to the caller.
func Build(in model.NormalizedOpportunity) *model.Opportunity {
	modality := model.Modality(Truncate(string(in.Modality), maxModality))
	if modality == "" {
		modality = model.ModalityOther
	}

	deadline := ParseTime(in.ClosingAt)
	if deadline == nil {
		deadline = ParseTime(in.OpeningAt)
	}

	raw := in.RawData
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	return &model.Opportunity{
		ID:             uuid.New(),
		Source:         in.Source,
		ExternalID:     Truncate(in.ExternalID, maxExternalID),
		ObjectHash:     ObjectHash(in.Title),
		Title:          in.Title,
		Description:    in.Description,
		Modality:       modality,
		Number:         Truncate(in.Number, maxNumber),
		ProcessNumber:  Truncate(in.ProcessNumber, maxNumber),
		EntityCNPJ:     Truncate(in.EntityCNPJ, maxCNPJ),
		EntityName:     Truncate(in.EntityName, maxEntityName),
		EntityUF:       Truncate(in.EntityUF, maxUF),
		EntityCity:     Truncate(in.EntityCity, maxCity),
		PublishedAt:    ParseTime(in.PublishedAt),
		OpeningAt:      ParseTime(in.OpeningAt),
		ClosingAt:      ParseTime(in.ClosingAt),
		Deadline:       deadline,
		EstimatedValue: in.EstimatedValue,
		AwardedValue:   in.AwardedValue,
		IsSRP:          in.IsSRP,
		Link:           Truncate(in.Link, maxLink),
		Status:         model.StatusNew,
		RawData:        raw,
	}
}

func buildItem(oppID uuid.UUID, in model.ItemInput) *model.OpportunityItem {
	return &model.OpportunityItem{
		ID:                 uuid.New(),
		OpportunityID:      oppID,
		ItemNumber:         in.ItemNumber,
		Description:        in.Description,
		Quantity:           in.Quantity,
		Unit:               Truncate(in.Unit, maxUnit),
		EstimatedUnitPrice: in.EstimatedUnitPrice,
		EstimatedTotal:     in.EstimatedTotal,
		MaterialOrService:  Truncate(in.MaterialOrService, maxMaterialOrSvc),
		RawData:            in.RawData,
	}
}

func buildDocument(oppID uuid.UUID, ref model.DocumentRef) *model.OpportunityDocument {
	return &model.OpportunityDocument{
		ID:            uuid.New(),
		OpportunityID: oppID,
		OriginalURL:   ref.URL,
		FileName:      Truncate(ref.FileName, maxFileName),
		DocType:       Truncate(ref.DocType, maxDocType),
		Status:        model.DocPending,
	}
}
