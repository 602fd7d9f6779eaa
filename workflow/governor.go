package workflow

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pagecraft/sitegov_backend/models"
)

// Output acceptance bounds for the during-generation stage.
const (
	MinOutputLength  = 500
	MaxOutputLength  = 50000
	MinSentenceCount = 5
	MinEntityCount   = 3
	MinFaqCount      = 3
)

// The governor stages are pure functions over their inputs; the workflow
// driver collects the facts (silo counts, similarity verdicts) and persists
// the typed results into the page's governance ledger.

// EvaluatePreGeneration validates silo structure and basic fields, and folds
// in the advisory early cannibalization pass. earlySim may be nil when the
// early pass could not run (it is best-effort and never blocks on its own).
func EvaluatePreGeneration(page *models.Page, siloValid bool, siloCount int, earlySim *SimilarityResult) *models.PreGenerationResult {
	result := models.PreGenerationResult{
		SiloValid: siloValid,
		CheckedAt: time.Now().UTC(),
	}

	if !siloValid {
		result.FieldErrors = append(result.FieldErrors, "target silo does not exist")
	}
	if siloCount < models.SiloCountMin || siloCount > models.SiloCountMax {
		result.FieldErrors = append(result.FieldErrors, fmt.Sprintf("site has %d silos, must be within [%d,%d]", siloCount, models.SiloCountMin, models.SiloCountMax))
	}
	if strings.TrimSpace(page.Title) == "" {
		result.FieldErrors = append(result.FieldErrors, "title is required")
	}
	if strings.TrimSpace(page.NormalizedPath) == "" {
		result.FieldErrors = append(result.FieldErrors, "path is required")
	}

	if earlySim != nil {
		result.EarlyMaxSimilarity = earlySim.MaxSimilarity
		if earlySim.Blocking {
			result.EarlyBlockingPage = earlySim.BlockingPageId
		}
	}

	result.Passed = len(result.FieldErrors) == 0
	return &result
}

// EvaluateDuringGeneration gates acceptance of the raw model output: length
// bounds, sentence minimum, and intent preservation. Failures are transient
// generation defects, eligible for retry.
func EvaluateDuringGeneration(output string, intentPhrase string) *models.DuringGenerationResult {
	result := models.DuringGenerationResult{
		OutputLength:  utf8.RuneCountInString(output),
		SentenceCount: countSentences(output),
		CheckedAt:     time.Now().UTC(),
	}

	if result.OutputLength < MinOutputLength || result.OutputLength > MaxOutputLength {
		result.Failures = append(result.Failures, fmt.Sprintf("output length %d outside [%d,%d]", result.OutputLength, MinOutputLength, MaxOutputLength))
	}
	if result.SentenceCount < MinSentenceCount {
		result.Failures = append(result.Failures, fmt.Sprintf("only %d sentences, need at least %d", result.SentenceCount, MinSentenceCount))
	}
	if intentPhrase != "" {
		result.IntentPresent = strings.Contains(strings.ToLower(output), strings.ToLower(intentPhrase))
		if !result.IntentPresent {
			result.Failures = append(result.Failures, "intent phrase missing from output")
		}
	} else {
		result.IntentPresent = true
	}

	result.Passed = len(result.Failures) == 0
	return &result
}

// PostCheckInput carries everything the post-generation stage needs: the
// accepted output, the blocking cannibalization verdict, the page's authority
// flags, and the link universe (known site paths + supplied source URLs).
type PostCheckInput struct {
	Output        string
	Sim           *SimilarityResult
	HighAuthority bool
	SourceUrls    []string
	FaqRequested  bool
	KnownPaths    map[string]bool
}

// EvaluatePostGeneration runs the final checks on the accepted output:
// blocking cannibalization, authority sources, completeness, entity coverage,
// FAQ minimum, and link hallucination.
func EvaluatePostGeneration(in PostCheckInput) *models.PostGenerationResult {
	result := models.PostGenerationResult{
		CheckedAt: time.Now().UTC(),
	}

	if in.Sim != nil {
		result.MaxSimilarity = in.Sim.MaxSimilarity
		if in.Sim.Blocking {
			result.BlockingPageId = in.Sim.BlockingPageId
			result.Failures = append(result.Failures, fmt.Sprintf("cannibalization: similarity %.3f with page %d", in.Sim.MaxSimilarity, in.Sim.BlockingPageId))
		}
	}

	result.AuthoritySourced = len(in.SourceUrls) > 0
	if in.HighAuthority && !result.AuthoritySourced {
		result.Failures = append(result.Failures, "high-authority page has no source urls")
	}

	if strings.TrimSpace(in.Output) == "" {
		result.Failures = append(result.Failures, "output is empty")
	}

	result.EntityCount = countNamedEntities(in.Output)
	if result.EntityCount < MinEntityCount {
		result.Failures = append(result.Failures, fmt.Sprintf("only %d named entities, need at least %d", result.EntityCount, MinEntityCount))
	}

	result.FaqCount = countFaqPairs(in.Output)
	if in.FaqRequested && result.FaqCount < MinFaqCount {
		result.Failures = append(result.Failures, fmt.Sprintf("only %d faq pairs, need at least %d", result.FaqCount, MinFaqCount))
	}

	result.LinkFailures = findHallucinatedLinks(in.Output, in.KnownPaths, in.SourceUrls)
	if len(result.LinkFailures) > 0 {
		result.Failures = append(result.Failures, fmt.Sprintf("%d hallucinated links", len(result.LinkFailures)))
	}

	result.Passed = len(result.Failures) == 0
	return &result
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+(\s|$)`)

func countSentences(text string) int {
	return len(sentenceEndRe.FindAllString(text, -1))
}

// Capitalized words that do not open a sentence are counted as named
// entities. Adjacent capitalized words collapse into one entity, so
// "New York City" counts once.
var entityRe = regexp.MustCompile(`(?:[A-Z][a-z]+)(?:\s+[A-Z][a-z]+)*`)

func countNamedEntities(text string) int {
	seen := make(map[string]bool)
	for _, sentence := range sentenceEndRe.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		for i, match := range entityRe.FindAllStringIndex(sentence, -1) {
			// A match at offset 0 of the sentence is just capitalization.
			if i == 0 && match[0] == 0 {
				continue
			}
			seen[sentence[match[0]:match[1]]] = true
		}
	}
	return len(seen)
}

var faqRe = regexp.MustCompile(`(?mi)^\s*(?:\*\*)?(?:Q[0-9]*[:.)]|Question[:.)])`)

func countFaqPairs(text string) int {
	return len(faqRe.FindAllString(text, -1))
}

var markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)

// findHallucinatedLinks returns every link in the output that neither
// resolves to a known page path nor appears among the supplied source URLs.
// Fabricated internal links are the classic generation failure here.
func findHallucinatedLinks(output string, knownPaths map[string]bool, sourceUrls []string) []string {
	sources := make(map[string]bool, len(sourceUrls))
	for _, s := range sourceUrls {
		sources[strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/")] = true
	}

	var failures []string
	for _, m := range markdownLinkRe.FindAllStringSubmatch(output, -1) {
		link := strings.TrimSpace(m[1])
		if strings.HasPrefix(link, "#") {
			continue
		}
		if strings.HasPrefix(link, "/") {
			if !knownPaths[models.NormalizePath(link)] {
				failures = append(failures, link)
			}
			continue
		}
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			failures = append(failures, link)
			continue
		}
		if !sources[strings.TrimRight(strings.ToLower(link), "/")] {
			failures = append(failures, link)
		}
	}
	return failures
}
