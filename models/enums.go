package models

import "errors"

type PageStatus string

const (
	PageStatusDraft          PageStatus = "draft"
	PageStatusPendingReview  PageStatus = "pending_review"
	PageStatusApproved       PageStatus = "approved"
	PageStatusPublished      PageStatus = "published"
	PageStatusDecommissioned PageStatus = "decommissioned"
	PageStatusBlocked        PageStatus = "blocked"
)

func (s PageStatus) Valid() bool {
	switch s {
	case PageStatusDraft, PageStatusPendingReview, PageStatusApproved,
		PageStatusPublished, PageStatusDecommissioned, PageStatusBlocked:
		return true
	}
	return false
}

// PageType is a first-class enum so protected types cannot be disabled by a
// typo inside a loosely-typed document.
type PageType string

const (
	PageTypeStandard     PageType = "standard"
	PageTypeProduct      PageType = "product"
	PageTypeServiceCore  PageType = "service_core"
	PageTypeProposalNote PageType = "proposal_note"
)

func (t PageType) Valid() bool {
	switch t {
	case PageTypeStandard, PageTypeProduct, PageTypeServiceCore, PageTypeProposalNote:
		return true
	}
	return false
}

// IsProtected reports whether pages of this type are exempt from decay
// reclamation.
func (t PageType) IsProtected() bool {
	return t == PageTypeProduct || t == PageTypeServiceCore
}

type EventSeverity string

const (
	EventSeverityInfo     EventSeverity = "INFO"
	EventSeverityWarn     EventSeverity = "WARN"
	EventSeverityBlock    EventSeverity = "BLOCK"
	EventSeverityCritical EventSeverity = "CRITICAL"
)

type RedirectType string

const (
	RedirectTypeInternal RedirectType = "internal"
	RedirectTypeExternal RedirectType = "external"
	RedirectTypeNone     RedirectType = "none"
)

// GovernanceReferenceType tags outbox messages and idempotency keys with the
// entity kind they refer to.
type GovernanceReferenceType string

const (
	GovernanceReferenceTypePage         GovernanceReferenceType = "PG"
	GovernanceReferenceTypeGeneration   GovernanceReferenceType = "GEN"
	GovernanceReferenceTypeDecommission GovernanceReferenceType = "DCM"
	GovernanceReferenceTypeDecaySweep   GovernanceReferenceType = "DSW"
)

type PubSubMessageAction string

const (
	PubSubMessageActionCreate PubSubMessageAction = "C"
	PubSubMessageActionUpdate PubSubMessageAction = "U"
	PubSubMessageActionDelete PubSubMessageAction = "D"
)

func ParseAction(s string) (PubSubMessageAction, error) {
	switch s {
	case "C":
		return PubSubMessageActionCreate, nil
	case "U":
		return PubSubMessageActionUpdate, nil
	case "D":
		return PubSubMessageActionDelete, nil
	}
	return "", errors.New("invalid pubsub message action")
}
