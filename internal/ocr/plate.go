package ocr

import (
	"regexp"
	"unicode/utf8"
)

// MaxPlateLength is the longest OCR line still considered a plate candidate.
const MaxPlateLength = 8

// platePattern only anchors at the start of the line; trailing characters are allowed.
var platePattern = regexp.MustCompile(`^[0-9A-Z]{2,4}[.-][0-9A-Z]{2,4}`)

// FindPlate returns the first line that looks like a license plate with its
// separator normalized to '-', or "" when nothing matches.
func FindPlate(lines []string) string {
	for _, line := range lines {
		if utf8.RuneCountInString(line) > MaxPlateLength {
			continue
		}
		loc := platePattern.FindStringIndex(line)
		if loc == nil {
			continue
		}
		return normalizeSeparator(line, line[:loc[1]])
	}
	return ""
}

// normalizeSeparator rewrites the separator inside the matched prefix. The
// pattern is ASCII only, so byte offsets are safe.
func normalizeSeparator(line, match string) string {
	for i := 0; i < len(match); i++ {
		if match[i] == '.' || match[i] == '-' {
			return line[:i] + "-" + line[i+1:]
		}
	}
	return line
}
