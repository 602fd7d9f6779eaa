package workflow

import (
	"strings"
	"testing"

	"github.com/pagecraft/sitegov_backend/models"
)

// acceptableOutput is long enough, has enough sentences, names three
// entities (Austin, Travis County, Acme Roofing) and carries the intent
// phrase "roof repair".
var acceptableOutput = "Homeowners in Austin call us first when storms hit. " +
	"Our crews cover Travis County and finish most jobs in a day. " +
	"We partner with Acme Roofing for materials. " +
	"Ask about roof repair pricing before you sign anything. " +
	"Every estimate is free and every inspection is documented. " +
	strings.Repeat("The crew photographs each stage of the work before moving on. ", 8)

func TestEvaluatePreGeneration(t *testing.T) {
	page := &models.Page{Title: "Roof Repair", NormalizedPath: "/services/roof-repair"}

	result := EvaluatePreGeneration(page, true, 4, nil)
	if !result.Passed {
		t.Fatalf("expected pre stage to pass, got errors: %v", result.FieldErrors)
	}

	result = EvaluatePreGeneration(page, false, 4, nil)
	if result.Passed {
		t.Fatalf("invalid silo must fail the pre stage")
	}

	result = EvaluatePreGeneration(page, true, 2, nil)
	if result.Passed {
		t.Fatalf("site with 2 silos must fail the pre stage")
	}
	result = EvaluatePreGeneration(page, true, 8, nil)
	if result.Passed {
		t.Fatalf("site with 8 silos must fail the pre stage")
	}

	blank := &models.Page{Title: " ", NormalizedPath: "/x"}
	result = EvaluatePreGeneration(blank, true, 4, nil)
	if result.Passed {
		t.Fatalf("blank title must fail the pre stage")
	}
}

func TestEvaluatePreGeneration_EarlySimilarityIsAdvisory(t *testing.T) {
	page := &models.Page{Title: "Roof Repair", NormalizedPath: "/services/roof-repair"}
	sim := &SimilarityResult{MaxSimilarity: 0.91, Blocking: true, BlockingPageId: 7}

	result := EvaluatePreGeneration(page, true, 4, sim)
	if !result.Passed {
		t.Fatalf("early similarity is advisory and must not fail the pre stage alone")
	}
	if result.EarlyMaxSimilarity != 0.91 || result.EarlyBlockingPage != 7 {
		t.Fatalf("early similarity verdict not recorded: %+v", result)
	}
}

func TestEvaluateDuringGeneration(t *testing.T) {
	result := EvaluateDuringGeneration(acceptableOutput, "Roof Repair")
	if !result.Passed {
		t.Fatalf("expected acceptable output to pass, got failures: %v", result.Failures)
	}
	if !result.IntentPresent {
		t.Fatalf("intent phrase match must be case-insensitive")
	}

	result = EvaluateDuringGeneration("Too short.", "")
	if result.Passed {
		t.Fatalf("short output must fail")
	}
	if result.OutputLength >= MinOutputLength {
		t.Fatalf("unexpected output length %d", result.OutputLength)
	}

	result = EvaluateDuringGeneration(acceptableOutput, "emergency plumbing")
	if result.Passed || result.IntentPresent {
		t.Fatalf("missing intent phrase must fail the during stage")
	}
}

func TestEvaluateDuringGeneration_LengthCountsCharacters(t *testing.T) {
	// 400 three-byte characters: 1200 bytes, but only 400 characters, which
	// is under the minimum.
	output := strings.Repeat("屋", 400)
	result := EvaluateDuringGeneration(output, "")
	if result.OutputLength != 400 {
		t.Fatalf("output length must count characters, got %d", result.OutputLength)
	}
	if result.Passed {
		t.Fatalf("a 400-character output must fail the minimum length")
	}
}

func TestEvaluatePostGeneration_CannibalizationBlocks(t *testing.T) {
	result := EvaluatePostGeneration(PostCheckInput{
		Output: acceptableOutput,
		Sim:    &SimilarityResult{MaxSimilarity: 0.91, Blocking: true, BlockingPageId: 42},
	})
	if result.Passed {
		t.Fatalf("blocking similarity must fail the post stage")
	}
	if result.BlockingPageId != 42 || result.MaxSimilarity != 0.91 {
		t.Fatalf("similarity verdict not recorded: %+v", result)
	}

	result = EvaluatePostGeneration(PostCheckInput{
		Output: acceptableOutput,
		Sim:    &SimilarityResult{MaxSimilarity: 0.52},
	})
	if !result.Passed {
		t.Fatalf("non-blocking similarity must pass, got failures: %v", result.Failures)
	}
}

func TestEvaluatePostGeneration_AuthoritySources(t *testing.T) {
	result := EvaluatePostGeneration(PostCheckInput{
		Output:        acceptableOutput,
		HighAuthority: true,
	})
	if result.Passed {
		t.Fatalf("high-authority page without sources must fail")
	}

	result = EvaluatePostGeneration(PostCheckInput{
		Output:        acceptableOutput,
		HighAuthority: true,
		SourceUrls:    []string{"https://www.nrca.net/roofing-standards"},
	})
	if !result.Passed {
		t.Fatalf("sourced high-authority page must pass, got failures: %v", result.Failures)
	}
	if !result.AuthoritySourced {
		t.Fatalf("authority sourcing not recorded")
	}
}

func TestEvaluatePostGeneration_FaqMinimum(t *testing.T) {
	withFaq := acceptableOutput +
		"\nQ: How long does a repair take?\nMost repairs finish in one day.\n" +
		"Q: Do you offer a warranty?\nYes, ten years on workmanship.\n" +
		"Q: Are estimates free?\nAlways.\n"

	result := EvaluatePostGeneration(PostCheckInput{Output: withFaq, FaqRequested: true})
	if !result.Passed {
		t.Fatalf("expected 3 faq pairs to satisfy the minimum, got failures: %v", result.Failures)
	}
	if result.FaqCount != 3 {
		t.Fatalf("expected faq count 3, got %d", result.FaqCount)
	}

	result = EvaluatePostGeneration(PostCheckInput{
		Output:       acceptableOutput + "\nQ: Just one question?\nYes.\n",
		FaqRequested: true,
	})
	if result.Passed {
		t.Fatalf("one faq pair must fail when faq was requested")
	}

	result = EvaluatePostGeneration(PostCheckInput{Output: acceptableOutput, FaqRequested: false})
	if !result.Passed {
		t.Fatalf("faq minimum only applies when faq was requested")
	}
}

func TestEvaluatePostGeneration_HallucinatedLinks(t *testing.T) {
	known := map[string]bool{"/services/roof-repair": true}
	sources := []string{"https://www.nrca.net/standards"}

	okOutput := acceptableOutput +
		" See [our repair service](/services/roof-repair) and [the industry standard](https://www.nrca.net/standards)."
	result := EvaluatePostGeneration(PostCheckInput{Output: okOutput, KnownPaths: known, SourceUrls: sources})
	if !result.Passed {
		t.Fatalf("links to known paths and supplied sources must pass, got failures: %v", result.Failures)
	}

	badOutput := acceptableOutput +
		" Compare [pricing](/services/pricing) or read [this study](https://example.com/made-up)."
	result = EvaluatePostGeneration(PostCheckInput{Output: badOutput, KnownPaths: known, SourceUrls: sources})
	if result.Passed {
		t.Fatalf("links outside the known universe must fail")
	}
	if len(result.LinkFailures) != 2 {
		t.Fatalf("expected 2 link failures, got %v", result.LinkFailures)
	}
}

func TestCountSentencesAndEntities(t *testing.T) {
	if n := countSentences("One. Two! Three? Four."); n != 4 {
		t.Fatalf("expected 4 sentences, got %d", n)
	}
	// Capitalized sentence openers do not count; adjacent capitalized words
	// collapse into one entity.
	text := "The storm hit Travis County hard. Crews from Acme Roofing responded. They were done by Friday."
	if n := countNamedEntities(text); n != 3 {
		t.Fatalf("expected 3 entities (Travis County, Acme Roofing, Friday), got %d", n)
	}
}
