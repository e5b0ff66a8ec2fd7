package translate

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// ordinalMarker finds the start of every numbered block in a reply.
	ordinalMarker = regexp.MustCompile(`(?m)^\d+\.\s`)
	// ordinalPrefix strips the number from a block.
	ordinalPrefix = regexp.MustCompile(`(?s)^\d+\.\s*(.*)`)
	// codeFence matches the first markdown code block in a reply.
	codeFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// CombineNumbered joins texts into one request body, one "n. text" entry
// per item, 1-based. The numbering is what realigns the reply.
func CombineNumbered(texts []string) string {
	var sb strings.Builder
	for i, t := range texts {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, t)
	}
	return sb.String()
}

// ParseNumbered splits a numbered reply into exactly expected strings.
//
// Every line-start ordinal marker opens a block that runs to the next
// marker or the end of the reply; the ordinal itself is stripped. Blocks
// are taken in order of appearance, not by the number they carry. Extra
// blocks are dropped and missing trailing blocks are padded with "".
// parsed is the number of blocks actually found, so parsed != expected
// means the reply had to be repaired.
func ParseNumbered(reply string, expected int) (texts []string, parsed int) {
	reply = unfence(reply)

	locs := ordinalMarker.FindAllStringIndex(reply, -1)
	blocks := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(reply)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := strings.TrimSpace(reply[loc[0]:end])
		if m := ordinalPrefix.FindStringSubmatch(block); m != nil {
			block = strings.TrimSpace(m[1])
		}
		blocks = append(blocks, block)
	}

	return fixLength(blocks, make([]string, expected)), len(blocks)
}

// unfence returns the body of a code block that wraps the numbered list.
// A block is only unwrapped when all markers sit inside it; a block inside
// an entry is part of the translation.
func unfence(reply string) string {
	loc := codeFence.FindStringSubmatchIndex(reply)
	if loc == nil {
		return reply
	}
	inner := reply[loc[2]:loc[3]]
	outside := reply[:loc[0]] + "\n" + reply[loc[1]:]
	if !ordinalMarker.MatchString(inner) || ordinalMarker.MatchString(outside) {
		return reply
	}
	return inner
}

// fixLength truncates got to len(want), or pads it with the trailing
// elements of want. The result always has len(want) elements.
func fixLength(got, want []string) []string {
	switch {
	case len(got) > len(want):
		return got[:len(want)]
	case len(got) < len(want):
		out := make([]string, 0, len(want))
		out = append(out, got...)
		return append(out, want[len(got):]...)
	}
	return got
}
