package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EmbeddingDimension is the only accepted vector size; anything else is a
// precondition failure, not a similarity result.
const EmbeddingDimension = 1536

type Page struct {
	ID             int        `gorm:"primary_key" json:"id"`
	BusinessId     string     `gorm:"size:64;index;not null" json:"business_id"`
	SiteId         int        `gorm:"not null;index:uniq_page_path,unique,priority:1" json:"site_id"`
	SiloId         *int       `gorm:"index" json:"silo_id"`
	Path           string     `gorm:"size:512;not null" json:"path"`
	NormalizedPath string     `gorm:"size:512;not null;index:uniq_page_path,unique,priority:2" json:"normalized_path"`
	Title          string     `gorm:"size:255;not null" json:"title"`
	Body           string     `gorm:"type:longtext" json:"body"`
	Status         PageStatus `gorm:"type:enum('draft','pending_review','approved','published','decommissioned','blocked');not null;default:'draft';index" json:"status"`
	PageType       PageType   `gorm:"type:enum('standard','product','service_core','proposal_note');not null;default:'standard';index" json:"page_type"`
	IsProposal     *bool      `gorm:"not null;default:false;index" json:"is_proposal"`
	HighAuthority  *bool      `gorm:"not null;default:false" json:"high_authority"`
	AuthorityScore float64    `gorm:"not null;default:0" json:"authority_score"`

	SourceUrls datatypes.JSONSlice[string] `json:"source_urls"`
	// Embedding and GovernanceChecks are mutated only by the engine.
	Embedding        datatypes.JSONSlice[float32]         `json:"embedding"`
	GovernanceChecks datatypes.JSONType[GovernanceChecks] `json:"governance_checks"`
	SchemaMarkup     datatypes.JSONType[PageSchemaMarkup] `json:"schema_markup"`

	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	PublishedAt      *time.Time `json:"published_at"`
	DecommissionedAt *time.Time `json:"decommissioned_at"`
}

// PageSchemaMarkup is the JSON-LD blob plus the page fields it was built
// from, so the schema-sync gate can detect staleness without parsing JSON-LD.
type PageSchemaMarkup struct {
	Body    string    `json:"body,omitempty"`
	Title   string    `json:"title,omitempty"`
	Path    string    `json:"path,omitempty"`
	BuiltAt time.Time `json:"built_at,omitempty"`
}

type NewPage struct {
	SiteId         int      `json:"site_id" binding:"required"`
	SiloId         *int     `json:"silo_id"`
	Path           string   `json:"path" binding:"required"`
	Title          string   `json:"title" binding:"required"`
	PageType       PageType `json:"page_type"`
	IsProposal     bool     `json:"is_proposal"`
	HighAuthority  bool     `json:"high_authority"`
	AuthorityScore float64  `json:"authority_score"`
	SourceUrls     []string `json:"source_urls"`
	Keyword        string   `json:"keyword"`
}

// NormalizePath lowercases and trims the path. Uniqueness is enforced on the
// normalized form.
func NormalizePath(path string) string {
	return strings.ToLower(strings.TrimSpace(path))
}

// ValidatePath enforces the path syntax rules: leading slash, no double
// slash, no trailing slash except for the root itself.
func ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return ErrInvalidPathFormat
	}
	if strings.Contains(path, "//") {
		return ErrInvalidPathFormat
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		return ErrInvalidPathFormat
	}
	return nil
}

func (input *NewPage) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateResourceId[Site](ctx, businessId, input.SiteId); err != nil {
		return errors.New("site not found")
	}
	if input.SiloId != nil {
		if err := utils.ValidateResourceId[Silo](ctx, businessId, *input.SiloId); err != nil {
			return errors.New("silo not found")
		}
	}
	if input.PageType != "" && !input.PageType.Valid() {
		return errors.New("invalid page type")
	}
	if input.AuthorityScore < 0 || input.AuthorityScore > 1 {
		return errors.New("authority score must be within [0,1]")
	}
	return nil
}

// CreatePage validates path syntax, normalizes, and inserts. A uniqueness
// violation on (site_id, normalized_path) is surfaced as ErrDuplicatePath,
// never silently merged.
func CreatePage(ctx context.Context, input *NewPage) (*Page, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := ValidatePath(input.Path); err != nil {
		return nil, err
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	pageType := input.PageType
	if pageType == "" {
		pageType = PageTypeStandard
	}

	page := Page{
		BusinessId:     businessId,
		SiteId:         input.SiteId,
		SiloId:         input.SiloId,
		Path:           input.Path,
		NormalizedPath: NormalizePath(input.Path),
		Title:          input.Title,
		Status:         PageStatusDraft,
		PageType:       pageType,
		IsProposal:     &input.IsProposal,
		HighAuthority:  &input.HighAuthority,
		AuthorityScore: input.AuthorityScore,
		SourceUrls:     datatypes.NewJSONSlice(input.SourceUrls),
		GovernanceChecks: datatypes.NewJSONType(GovernanceChecks{
			PageType: pageType,
		}),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&page).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return ErrDuplicatePath
			}
			return err
		}
		if strings.TrimSpace(input.Keyword) != "" {
			if err := assignKeywordTx(tx, businessId, input.Keyword, page.ID); err != nil {
				return err
			}
		}
		return LogSystemEvent(ctx, tx, businessId, "page.created", "Page", page.ID, EventSeverityInfo, map[string]interface{}{
			"site_id":   page.SiteId,
			"path":      page.NormalizedPath,
			"page_type": page.PageType,
		})
	})
	if err != nil {
		return nil, err
	}

	return &page, nil
}

// RenamePagePath re-validates syntax and re-enforces uniqueness, in one
// transaction with the update.
func RenamePagePath(ctx context.Context, id int, newPath string) (*Page, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := ValidatePath(newPath); err != nil {
		return nil, err
	}

	page, err := utils.FetchModel[Page](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if page.Status == PageStatusDecommissioned {
		return nil, errors.New("page is decommissioned")
	}
	oldPath := page.NormalizedPath

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&page).Updates(map[string]interface{}{
			"Path":           newPath,
			"NormalizedPath": NormalizePath(newPath),
		}).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return ErrDuplicatePath
			}
			return err
		}
		return LogSystemEvent(ctx, tx, businessId, "page.path_renamed", "Page", page.ID, EventSeverityInfo, map[string]interface{}{
			"old_path": oldPath,
			"new_path": NormalizePath(newPath),
		})
	})
	if err != nil {
		return nil, err
	}

	return page, nil
}

func GetPage(ctx context.Context, id int) (*Page, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Page](ctx, businessId, id)
}

// UpdateGovernanceChecks persists a mutated governance ledger within the
// caller's transaction.
func UpdateGovernanceChecks(tx *gorm.DB, pageId int, checks GovernanceChecks) error {
	return tx.Model(&Page{}).Where("id = ?", pageId).
		Update("governance_checks", datatypes.NewJSONType(checks)).Error
}
