package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/pagecraft/sitegov_backend/models"
	"gorm.io/datatypes"
)

func TestValidateRedirect_None(t *testing.T) {
	page := &models.Page{ID: 1, SiteId: 1}

	if err := validateRedirect(nil, page, RedirectSpec{Type: models.RedirectTypeNone}); err != nil {
		t.Fatalf("redirect type none without target must validate: %v", err)
	}
	err := validateRedirect(nil, page, RedirectSpec{Type: models.RedirectTypeNone, Target: "/somewhere"})
	if !errors.Is(err, models.ErrInvalidRedirect) {
		t.Fatalf("redirect type none with a target must be rejected, got %v", err)
	}
}

func TestValidateRedirect_External(t *testing.T) {
	page := &models.Page{ID: 1, SiteId: 1}

	ok := []string{
		"https://example.com/replacement",
		"http://example.com",
	}
	for _, target := range ok {
		if err := validateRedirect(nil, page, RedirectSpec{Type: models.RedirectTypeExternal, Target: target}); err != nil {
			t.Fatalf("external target %q must validate: %v", target, err)
		}
	}

	bad := []string{
		"",
		"example.com/no-scheme",
		"/services/internal-looking",
		"ftp://example.com/file",
		"https://",
	}
	for _, target := range bad {
		err := validateRedirect(nil, page, RedirectSpec{Type: models.RedirectTypeExternal, Target: target})
		if !errors.Is(err, models.ErrInvalidRedirect) {
			t.Fatalf("external target %q must be rejected, got %v", target, err)
		}
	}
}

func TestValidateRedirect_InternalPathSyntax(t *testing.T) {
	page := &models.Page{ID: 1, SiteId: 1}

	// Malformed paths are rejected before any lookup happens.
	err := validateRedirect(nil, page, RedirectSpec{Type: models.RedirectTypeInternal, Target: "no-leading-slash"})
	if !errors.Is(err, models.ErrInvalidRedirect) {
		t.Fatalf("malformed internal target must be rejected, got %v", err)
	}
}

func TestValidateRedirect_UnknownType(t *testing.T) {
	page := &models.Page{ID: 1, SiteId: 1}
	err := validateRedirect(nil, page, RedirectSpec{Type: models.RedirectType("meta_refresh")})
	if !errors.Is(err, models.ErrInvalidRedirect) {
		t.Fatalf("unknown redirect type must be rejected, got %v", err)
	}
}

func TestDecommissionRecordPreservesStanding(t *testing.T) {
	record := models.DecommissionRecord{
		OldStatus:        models.PageStatusPublished,
		AuthorityScore:   0.8,
		SourceUrls:       []string{"https://www.nrca.net/standards"},
		RedirectTarget:   "/services/roof-repair",
		RedirectType:     models.RedirectTypeInternal,
		DecommissionedAt: time.Now().UTC(),
	}
	checks := models.GovernanceChecks{Decommission: &record}

	// The record survives the JSON column round trip intact.
	stored := datatypes.NewJSONType(checks).Data()
	if stored.Decommission == nil {
		t.Fatalf("decommission record lost in governance checks")
	}
	if stored.Decommission.OldStatus != models.PageStatusPublished {
		t.Fatalf("old status not preserved, got %s", stored.Decommission.OldStatus)
	}
	if stored.Decommission.AuthorityScore != 0.8 || len(stored.Decommission.SourceUrls) != 1 {
		t.Fatalf("authority standing not preserved: %+v", stored.Decommission)
	}
}
