//go:build ignore

// Package main generates a synthetic corpus of Markdown notes for
// benchmarking ingest, chunking, and retrieval throughput.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of notes to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var noteTemplate = `# %s

## Summary

%s covers %s for the %s project. This note was last touched while
working through %s.

## Details

- Owner: %s
- Status: %s
- Related area: %s

%s

## Open questions

- How does this interact with %s?
- Should %s be revisited after the next %s review?
`

var subjects = []string{
	"Onboarding checklist", "Sprint retrospective", "Incident followup",
	"Architecture proposal", "Release notes", "Customer feedback summary",
	"Vendor evaluation", "Migration plan", "Runbook", "Design review",
	"Budget planning", "Hiring notes", "Roadmap draft", "Postmortem",
	"Research summary", "Meeting notes", "Proposal draft", "Status update",
	"Audit findings", "Training plan",
}

var topics = []string{
	"onboarding", "billing", "search relevance", "data retention",
	"access control", "latency", "deployment", "capacity planning",
	"customer support", "compliance", "localization", "observability",
	"backup strategy", "schema migration", "rate limiting", "caching",
	"notifications", "scheduling", "reporting", "integrations",
}

var projects = []string{
	"Atlas", "Beacon", "Compass", "Delta", "Ember", "Falcon", "Garnet",
	"Harbor", "Ion", "Juniper", "Kestrel", "Lumen", "Meridian", "Nimbus",
}

var owners = []string{
	"the platform team", "the growth team", "the infra group",
	"the support team", "the data team", "an external contractor",
}

var statuses = []string{"draft", "in review", "approved", "blocked", "archived"}

var paragraphs = []string{
	"The current approach works for the common case but falls over once " +
		"volume passes a few thousand records a day.",
	"We tried a simpler version first and abandoned it after hitting a " +
		"correctness issue during the first real rollout.",
	"Most of the remaining risk is operational rather than technical: the " +
		"rollback path has never actually been exercised.",
	"Feedback from the last review was mostly about naming and sequencing, " +
		"not about the underlying design.",
	"A few edge cases are still undocumented, in particular what happens " +
		"when two updates race against the same record.",
}

func main() {
	flag.Parse()
	rand.Seed(*seed)

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output directory: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < *numFiles; i++ {
		if err := generateNote(i); err != nil {
			fmt.Fprintf(os.Stderr, "error generating note %d: %v\n", i, err)
		}
	}

	fmt.Printf("generated %d notes in %s\n", *numFiles, *outputDir)
}

func pick(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

func slug(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "-"))
}

func generateNote(index int) error {
	subject := pick(subjects)
	topic := pick(topics)
	project := pick(projects)
	owner := pick(owners)
	status := pick(statuses)
	relatedTopic := pick(topics)
	body := pick(paragraphs)

	content := fmt.Sprintf(noteTemplate,
		subject, subject, topic, project, topic,
		owner, status, relatedTopic,
		body,
		relatedTopic, topic, topic,
	)

	filename := filepath.Join(*outputDir, fmt.Sprintf("%03d-%s.md", index, slug(subject)))
	return os.WriteFile(filename, []byte(content), 0o644)
}
