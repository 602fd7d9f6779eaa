package models

import "time"

// GovernanceChecks is the per-page governance ledger, persisted as one JSON
// blob. Each stage writes its own typed record; nothing outside the engine
// mutates it.
type GovernanceChecks struct {
	PageType     PageType                `json:"page_type"`
	Pre          *PreGenerationResult    `json:"pre,omitempty"`
	During       *DuringGenerationResult `json:"during,omitempty"`
	Post         *PostGenerationResult   `json:"post,omitempty"`
	Publish      *PublishRecord          `json:"publish,omitempty"`
	Decommission *DecommissionRecord     `json:"decommission,omitempty"`
}

// PreGenerationResult records silo validity, field validation and the
// advisory early cannibalization pass. A failed pre stage keeps the job out
// of the queue entirely.
type PreGenerationResult struct {
	Passed             bool      `json:"passed"`
	SiloValid          bool      `json:"silo_valid"`
	FieldErrors        []string  `json:"field_errors,omitempty"`
	EarlyMaxSimilarity float64   `json:"early_max_similarity"`
	EarlyBlockingPage  int       `json:"early_blocking_page,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// DuringGenerationResult gates acceptance of the raw model output. Failures
// here are transient generation defects, eligible for retry.
type DuringGenerationResult struct {
	Passed        bool      `json:"passed"`
	OutputLength  int       `json:"output_length"`
	SentenceCount int       `json:"sentence_count"`
	IntentPresent bool      `json:"intent_present"`
	Failures      []string  `json:"failures,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// PostGenerationResult records the blocking cannibalization pass and the
// content-quality checks on the accepted output.
type PostGenerationResult struct {
	Passed           bool      `json:"passed"`
	MaxSimilarity    float64   `json:"max_similarity"`
	BlockingPageId   int       `json:"blocking_page_id,omitempty"`
	EntityCount      int       `json:"entity_count"`
	FaqCount         int       `json:"faq_count"`
	AuthoritySourced bool      `json:"authority_sourced"`
	LinkFailures     []string  `json:"link_failures,omitempty"`
	Failures         []string  `json:"failures,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// PublishRecord is stamped by Publish with the gate evaluation that carried
// the decision.
type PublishRecord struct {
	GatesPassed []string  `json:"gates_passed"`
	PublishedAt time.Time `json:"published_at"`
}

// DecommissionRecord preserves the retired page's authority signals alongside
// the redirect decision. Nothing here is ever discarded.
type DecommissionRecord struct {
	OldStatus        PageStatus   `json:"old_status"`
	AuthorityScore   float64      `json:"authority_score"`
	SourceUrls       []string     `json:"source_urls,omitempty"`
	RedirectTarget   string       `json:"redirect_target,omitempty"`
	RedirectType     RedirectType `json:"redirect_type"`
	DecommissionedAt time.Time    `json:"decommissioned_at"`
}

// AllStagesPassed reports whether pre, during and post are all recorded and
// passed. This is the first lifecycle gate.
func (g GovernanceChecks) AllStagesPassed() bool {
	return g.Pre != nil && g.Pre.Passed &&
		g.During != nil && g.During.Passed &&
		g.Post != nil && g.Post.Passed
}
