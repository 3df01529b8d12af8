package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Split cuts text into overlapping chunks of at most maxChars,
// preferring paragraph boundaries, then sentences, then words.
func Split(text string, maxChars, overlapChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}
	return mergeWithOverlap(segment(text, maxChars), maxChars, overlapChars)
}

// segment recursively splits text into pieces no longer than maxChars.
func segment(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	// Level 1: paragraphs.
	if paragraphs := strings.Split(text, "\n\n"); len(paragraphs) > 1 {
		var out []string
		for _, p := range paragraphs {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if len(p) <= maxChars {
				out = append(out, p)
			} else {
				out = append(out, splitSentences(p, maxChars)...)
			}
		}
		return out
	}

	// Level 2: sentences, level 3: words.
	if sentences := splitSentences(text, maxChars); len(sentences) > 1 {
		return sentences
	}
	return splitWords(text, maxChars)
}

func splitSentences(text string, maxChars int) []string {
	boundaries := sentenceBoundaries(text)
	if len(boundaries) == 0 {
		return splitWords(text, maxChars)
	}

	var out []string
	emit := func(seg string) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return
		}
		if len(seg) <= maxChars {
			out = append(out, seg)
		} else {
			out = append(out, splitWords(seg, maxChars)...)
		}
	}

	start := 0
	lastGood := -1
	for _, boundary := range boundaries {
		if len(text[start:boundary]) <= maxChars {
			lastGood = boundary
			continue
		}
		if lastGood > start {
			emit(text[start:lastGood])
			start = lastGood
			if len(text[start:boundary]) <= maxChars {
				lastGood = boundary
			} else {
				lastGood = -1
			}
		} else {
			emit(text[start:boundary])
			start = boundary
			lastGood = -1
		}
	}
	emit(text[start:])
	return out
}

// abbreviations that must not end a sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true,
	"prof": true, "sr": true, "jr": true,
	"vs": true, "etc": true, "inc": true, "ltd": true,
	"e.g": true, "i.e": true, "viz": true, "al": true,
	"approx": true, "dept": true, "est": true,
	"fig": true, "no": true, "vol": true,
}

func isAbbreviation(text string, dotPos int) bool {
	start := dotPos
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	return abbreviations[strings.ToLower(text[start:dotPos])]
}

func isDecimalDot(text string, dotPos int) bool {
	if dotPos == 0 || dotPos+1 >= len(text) {
		return false
	}
	prev, next := text[dotPos-1], text[dotPos+1]
	return prev >= '0' && prev <= '9' && next >= '0' && next <= '9'
}

// sentenceBoundaries returns byte positions where a new sentence may
// begin. ASCII .!? need following whitespace and skip abbreviations
// and decimals; CJK 。！？ always end a sentence.
func sentenceBoundaries(text string) []int {
	var boundaries []int
	runes := []rune(text)
	n := len(runes)

	offsets := make([]int, n+1)
	off := 0
	for i, r := range runes {
		offsets[i] = off
		off += utf8.RuneLen(r)
	}
	offsets[n] = off

	for i := 0; i < n; i++ {
		r := runes[i]
		if r == '。' || r == '！' || r == '？' {
			boundaries = append(boundaries, offsets[i+1])
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		pos := offsets[i]
		if r == '.' && (isDecimalDot(text, pos) || isAbbreviation(text, pos)) {
			continue
		}
		if i+1 < n && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			switch {
			case runes[i+1] == '\n':
				boundaries = append(boundaries, offsets[i+1])
			case i+2 < n && unicode.IsUpper(runes[i+2]):
				boundaries = append(boundaries, offsets[i+2])
			case i+2 >= n:
				boundaries = append(boundaries, offsets[n])
			}
		}
	}
	return boundaries
}

func splitWords(text string, maxChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, word := range words {
		if len(word) > maxChars {
			flush()
			for i := 0; i < len(word); i += maxChars {
				end := i + maxChars
				if end > len(word) {
					end = len(word)
				}
				out = append(out, word[i:end])
			}
			continue
		}
		needed := len(word)
		if current.Len() > 0 {
			needed += current.Len() + 1
		}
		if needed > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()
	return out
}

// mergeWithOverlap packs segments into chunks up to maxChars, carrying
// a word-aligned suffix of each chunk into the next.
func mergeWithOverlap(segments []string, maxChars, overlapChars int) []string {
	if len(segments) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	for _, seg := range segments {
		needed := len(seg)
		if current.Len() > 0 {
			needed += current.Len() + 1
		}
		if needed <= maxChars {
			if current.Len() > 0 {
				current.WriteByte('\n')
			}
			current.WriteString(seg)
			continue
		}
		if current.Len() > 0 {
			chunk := current.String()
			chunks = append(chunks, chunk)
			overlap := overlapSuffix(chunk, overlapChars)
			current.Reset()
			if overlap != "" && len(overlap)+1+len(seg) <= maxChars {
				current.WriteString(overlap)
				current.WriteByte('\n')
			}
		}
		current.WriteString(seg)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

func overlapSuffix(text string, n int) string {
	if len(text) <= n {
		return text
	}
	suffix := text[len(text)-n:]
	if idx := strings.Index(suffix, " "); idx >= 0 {
		return strings.TrimSpace(suffix[idx+1:])
	}
	return strings.TrimSpace(suffix)
}
