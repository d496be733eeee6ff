// Package chunker splits text into chunks, heading blocks, sentences and words.
package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures chunking behavior. Sizes are in bytes.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// SizedOptions targets chunks of about size bytes.
func SizedOptions(size int) Options {
	return Options{TargetSize: size, MaxSize: size + size/2}
}

// ChunkResult represents a chunk with its position in the original text.
type ChunkResult struct {
	Text      string
	StartLine int
	EndLine   int
}

// Chunk splits text into chunks. Short text (<= maxSize) returns a single chunk.
func Chunk(text string, opts Options) []ChunkResult {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}
	if opts.MaxSize < opts.TargetSize {
		opts.MaxSize = opts.TargetSize
	}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	if len(text) <= opts.MaxSize {
		lines := strings.Count(text, "\n")
		return []ChunkResult{{Text: text, StartLine: 1, EndLine: lines + 1}}
	}

	blocks := splitBlocks(text)
	return mergeBlocks(blocks, opts)
}

// ChunkN splits text into at most n chunks of roughly equal word count.
func ChunkN(text string, n int) []ChunkResult {
	words := strings.Fields(text)
	if len(words) == 0 || n <= 0 {
		return nil
	}
	if n > len(words) {
		n = len(words)
	}
	per := (len(words) + n - 1) / n
	var results []ChunkResult
	for start := 0; start < len(words); start += per {
		end := start + per
		if end > len(words) {
			end = len(words)
		}
		results = append(results, ChunkResult{Text: strings.Join(words[start:end], " ")})
	}
	return results
}

// Sections splits text at markdown heading lines, keeping each heading with
// the body that follows it. Text without headings splits into paragraphs.
func Sections(text string) []ChunkResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !hasHeading(text) {
		var results []ChunkResult
		for _, b := range splitBlocks(text) {
			results = append(results, ChunkResult{Text: b.text, StartLine: b.startLine, EndLine: b.endLine})
		}
		return results
	}

	var results []ChunkResult
	var current []string
	start := 1
	lines := strings.Split(text, "\n")
	flush := func(end int) {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			results = append(results, ChunkResult{Text: t, StartLine: start, EndLine: end})
		}
		current = nil
	}
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") && len(current) > 0 {
			flush(i)
			start = i + 1
		}
		current = append(current, line)
	}
	flush(len(lines))
	return results
}

func hasHeading(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return true
		}
	}
	return false
}

// block is an intermediate representation of a text section.
type block struct {
	text      string
	startLine int
	endLine   int
}

// splitBlocks splits text on heading lines and blank lines.
func splitBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block
	var current []string
	startLine := 1

	flush := func(endLine int) {
		if len(current) == 0 {
			return
		}
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			blocks = append(blocks, block{text: t, startLine: startLine, endLine: endLine})
		}
		current = nil
		startLine = endLine + 1
	}

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") && len(current) > 0 {
			flush(lineNum - 1)
		}
		if trimmed == "" {
			flush(lineNum)
			continue
		}
		if len(current) == 0 {
			startLine = lineNum
		}
		current = append(current, line)
	}
	flush(len(lines))

	return blocks
}

// mergeBlocks combines small blocks and splits oversized ones.
func mergeBlocks(blocks []block, opts Options) []ChunkResult {
	var results []ChunkResult
	var accum block

	flushAccum := func() {
		t := strings.TrimSpace(accum.text)
		if t == "" {
			return
		}
		if len(t) > opts.MaxSize {
			results = append(results, hardSplit(t, accum.startLine, opts)...)
		} else {
			results = append(results, ChunkResult{Text: t, StartLine: accum.startLine, EndLine: accum.endLine})
		}
		accum = block{}
	}

	for _, b := range blocks {
		if accum.text == "" {
			accum = b
			continue
		}

		combined := accum.text + "\n\n" + b.text
		if len(combined) <= opts.TargetSize {
			accum.text = combined
			accum.endLine = b.endLine
		} else {
			flushAccum()
			accum = b
		}
	}
	flushAccum()

	return results
}

// hardSplit breaks text that exceeds maxSize on word boundaries.
// Line numbers are tracked by the newlines each word crossed.
func hardSplit(text string, startLine int, opts Options) []ChunkResult {
	var results []ChunkResult
	var current []string
	curStart, line := startLine, startLine
	curLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		results = append(results, ChunkResult{
			Text:      strings.Join(current, " "),
			StartLine: curStart,
			EndLine:   line,
		})
		current = nil
		curLen = 0
		curStart = line
	}

	for _, field := range strings.FieldsFunc(text, func(r rune) bool { return r == ' ' || r == '\t' }) {
		lines := strings.Split(field, "\n")
		for i, w := range lines {
			if i > 0 {
				line++
			}
			if w == "" {
				continue
			}
			if curLen+len(w) > opts.TargetSize && len(current) > 0 {
				flush()
			}
			current = append(current, w)
			curLen += len(w) + 1
		}
	}
	flush()

	return results
}

// Sentences splits text after sentence-ending punctuation and at newlines.
// Both ASCII and CJK terminators are recognized.
func Sentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)

	emit := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}

	for i, r := range runes {
		if r == '\n' {
			emit()
			continue
		}
		b.WriteRune(r)
		switch r {
		case '。', '！', '？', '；':
			emit()
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				emit()
			}
		}
	}
	emit()
	return out
}

// GroupSentences joins consecutive sentences, at most max per group.
func GroupSentences(sentences []string, max int) []string {
	if max <= 1 {
		return sentences
	}
	var out []string
	for i := 0; i < len(sentences); i += max {
		end := i + max
		if end > len(sentences) {
			end = len(sentences)
		}
		out = append(out, strings.Join(sentences[i:end], " "))
	}
	return out
}

// Words lowercases text and splits it into runs of letters and digits.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
