package tokens

// Per-part constant covering message framing overhead (role markers,
// separators) that the provider counts but raw text does not.
const partOverhead = 4

// Estimate returns a token estimate for text using a Unicode-aware heuristic.
// ASCII characters are weighted at ~4 per token; non-ASCII characters (CJK,
// Cyrillic, Arabic, emoji) are weighted conservatively at ~1 per token.
func Estimate(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// Part is a single prompt part contributing to a model request: user prompts,
// system prompts, tool returns, retry prompts, and prior model responses.
type Part struct {
	Text string
}

// EstimateRequest estimates the total token cost of a request made of the
// given instruction text plus parts. Each part carries a fixed overhead on
// top of its text estimate.
func EstimateRequest(instructions string, parts []Part) int {
	total := Estimate(instructions)
	for _, part := range parts {
		total += Estimate(part.Text) + partOverhead
	}
	return total
}
