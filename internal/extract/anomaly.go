package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// minAnomalyRunes is the shortest text the gate looks at.
	minAnomalyRunes = 100
	// chunkRunes is the window used for the repetition ratio.
	chunkRunes = 50

	maxRepetitionRatio  = 0.5
	maxSpecialCharRatio = 0.35
	maxAvgLineRunes     = 5000

	// minSpaceRatio separates prose from encoded blobs on a single line.
	minSpaceRatio = 0.02
)

// Features describe the shape of a block of text.
type Features struct {
	Lines            int
	AvgLineLength    float64
	SpecialCharRatio float64
	// RepetitionRatio is 1 - unique/total over consecutive 50-rune chunks.
	RepetitionRatio float64
	SpaceRatio      float64
	Runes           int
}

// Measure computes the anomaly features of text.
func Measure(text string) Features {
	runes := []rune(text)
	f := Features{Runes: len(runes)}
	if len(runes) == 0 {
		return f
	}

	lines := strings.Split(text, "\n")
	f.Lines = len(lines)
	total := 0
	for _, l := range lines {
		total += utf8.RuneCountInString(l)
	}
	f.AvgLineLength = float64(total) / float64(f.Lines)

	special, spaces := 0, 0
	for _, r := range runes {
		switch {
		case unicode.IsSpace(r):
			spaces++
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			special++
		}
	}
	f.SpecialCharRatio = float64(special) / float64(len(runes))
	f.SpaceRatio = float64(spaces) / float64(len(runes))

	chunks := 0
	unique := make(map[string]struct{})
	for i := 0; i < len(runes); i += chunkRunes {
		end := min(i+chunkRunes, len(runes))
		unique[string(runes[i:end])] = struct{}{}
		chunks++
	}
	f.RepetitionRatio = 1 - float64(len(unique))/float64(chunks)
	return f
}

// Anomalous applies the fixed-threshold rule. Short texts are never
// anomalous.
func (f Features) Anomalous() bool {
	if f.Runes < minAnomalyRunes {
		return false
	}
	return f.RepetitionRatio > maxRepetitionRatio ||
		f.SpecialCharRatio > maxSpecialCharRatio ||
		(f.Lines == 1 && f.AvgLineLength > maxAvgLineRunes && f.SpaceRatio < minSpaceRatio)
}
