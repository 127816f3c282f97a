package telemetry

import "regexp"

// scrubPattern is a compiled rule the PII scrubber checks a serialized
// telemetry payload against. Mirrors the shape of a Kubernetes-secret masking
// package's CompiledPattern, but the scrubber rejects on match rather than
// masking in place: the telemetry schema excludes free-form text fields by
// construction, so any match here means something leaked outside the
// expected schema and the whole payload is defense-in-depth dropped rather
// than partially redacted.
type scrubPattern struct {
	name  string
	regex *regexp.Regexp
}

// builtinScrubPatterns is a rough, deliberately over-inclusive rule set: the
// telemetry schema already excludes question/answer text and user
// identifiers, so these patterns exist purely as a second line of defense
// against a future field accidentally carrying free text.
var builtinScrubPatterns = []scrubPattern{
	{name: "email", regex: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{name: "long_digit_run", regex: regexp.MustCompile(`\d{9,}`)},
	{name: "phone_like_digit_run", regex: regexp.MustCompile(`\d{3}[-. ]?\d{3}[-. ]?\d{4}`)},
}

// Scrubber checks serialized telemetry payloads for anything resembling
// PII before it is queued for upload.
type Scrubber struct {
	patterns []scrubPattern
}

// NewScrubber builds a Scrubber with the built-in pattern set.
func NewScrubber() *Scrubber {
	return &Scrubber{patterns: builtinScrubPatterns}
}

// Scan reports the name of the first pattern that matches payload, or ""
// if none match. Fail-closed: the caller must drop the payload on any match
// (spec §4.8 step 4).
func (s *Scrubber) Scan(payload []byte) string {
	for _, p := range s.patterns {
		if p.regex.Match(payload) {
			return p.name
		}
	}
	return ""
}
