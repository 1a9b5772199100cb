package deploy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Patterns for the error formats seen in Vercel build output.
var (
	// ./src/file.ts:10:5 - error TS2345: ...
	typescriptPattern = regexp.MustCompile(
		`(?i)\.?/?([^\s:]+\.[tj]sx?):(\d+):(\d+)\s*[-–]\s*error\s+(TS\d+):\s*(.+)`)

	// /path/file.js:10:5: Error: ...
	eslintPattern = regexp.MustCompile(
		`(?i)([^\s:]+\.[tj]sx?):(\d+):(\d+):\s*(Error|Warning):\s*(.+)`)

	// Error/Failed to compile: ...
	nextjsPattern = regexp.MustCompile(
		`(?i)(?:Error|Failed)\s+(?:to\s+)?(?:compile|build)[:\s]+(.+)`)

	// Module not found: Can't resolve 'x' in '/path'
	moduleNotFoundPattern = regexp.MustCompile(
		`(?i)Module\s+not\s+found:\s*(?:Can't\s+resolve\s+)?['"]?([^'"]+?)['"]?\s*(?:in\s+['"]?([^'"]+?)['"]?)?\s*$`)

	// npm ERR! ..., pnpm error ..., yarn error ...
	packageManagerPattern = regexp.MustCompile(
		`(?i)(?:npm|pnpm|yarn)\s+(?:ERR!|error)\s*(.+)`)

	// file.ext:10:5 - message (last resort, only on lines mentioning "error")
	genericFilePattern = regexp.MustCompile(
		`(?i)([^\s:]+\.[a-z]+):(\d+)(?::(\d+))?\s*[:\-]\s*(.+)`)
)

// LogParser extracts structured errors from Vercel build output.
type LogParser struct {
	errors []BuildError
}

// NewLogParser returns an empty parser.
func NewLogParser() *LogParser {
	return &LogParser{}
}

// ParseEvents extracts errors from deployment events: direct error events
// are captured as-is, stdout and stderr lines go through the line parsers.
func (p *LogParser) ParseEvents(events []Event) []BuildError {
	p.errors = nil
	var logLines []string

	for _, event := range events {
		switch event.Type {
		case "stdout", "stderr":
			if event.Payload.Text != "" {
				logLines = append(logLines, event.Payload.Text)
			}
		case "error":
			msg := event.Payload.Text
			if msg == "" {
				msg = event.Payload.Error
			}
			if msg != "" {
				p.errors = append(p.errors, BuildError{
					ErrorType: "build",
					Message:   strings.TrimSpace(msg),
				})
			}
		}
	}

	p.parseLines(strings.Split(strings.Join(logLines, "\n"), "\n"))
	return p.deduplicate()
}

// ParseLogText extracts errors from raw log text.
func (p *LogParser) ParseLogText(logText string) []BuildError {
	p.errors = nil
	p.parseLines(strings.Split(logText, "\n"))
	return p.deduplicate()
}

func (p *LogParser) parseLines(lines []string) {
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if err := tryParseLine(line, lines, i); err != nil {
			p.errors = append(p.errors, *err)
		}
	}
}

// tryParseLine matches one line against the known formats, most specific
// first. The generic pattern only applies to lines that mention "error",
// otherwise it would swallow ordinary path:line output.
func tryParseLine(line string, allLines []string, index int) *BuildError {
	if m := typescriptPattern.FindStringSubmatch(line); m != nil {
		return &BuildError{
			ErrorType:  "typescript",
			Message:    strings.TrimSpace(m[5]),
			FilePath:   m[1],
			LineNumber: atoi(m[2]),
			Column:     atoi(m[3]),
			Context:    surroundingLines(allLines, index),
		}
	}
	if m := eslintPattern.FindStringSubmatch(line); m != nil {
		return &BuildError{
			ErrorType:  "eslint",
			Message:    strings.TrimSpace(m[5]),
			FilePath:   m[1],
			LineNumber: atoi(m[2]),
			Column:     atoi(m[3]),
			Context:    surroundingLines(allLines, index),
		}
	}
	if m := moduleNotFoundPattern.FindStringSubmatch(line); m != nil {
		return &BuildError{
			ErrorType: "dependency",
			Message:   fmt.Sprintf("Cannot find module '%s'", m[1]),
			FilePath:  m[2],
			Context:   surroundingLines(allLines, index),
		}
	}
	if m := packageManagerPattern.FindStringSubmatch(line); m != nil {
		return &BuildError{
			ErrorType: "dependency",
			Message:   strings.TrimSpace(m[1]),
			Context:   surroundingLines(allLines, index),
		}
	}
	if m := nextjsPattern.FindStringSubmatch(line); m != nil {
		return &BuildError{
			ErrorType: "build",
			Message:   strings.TrimSpace(m[1]),
			Context:   surroundingLines(allLines, index),
		}
	}
	if strings.Contains(strings.ToLower(line), "error") {
		if m := genericFilePattern.FindStringSubmatch(line); m != nil {
			return &BuildError{
				ErrorType:  "unknown",
				Message:    strings.TrimSpace(m[4]),
				FilePath:   m[1],
				LineNumber: atoi(m[2]),
				Column:     atoi(m[3]),
				Context:    surroundingLines(allLines, index),
			}
		}
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// surroundingLines returns the error line with two lines of context on
// either side.
func surroundingLines(lines []string, index int) string {
	const contextLines = 2
	start := max(0, index-contextLines)
	end := min(len(lines), index+contextLines+1)
	return strings.Join(lines[start:end], "\n")
}

// deduplicate removes repeated errors, keyed by file, line and message
// prefix. First occurrence wins.
func (p *LogParser) deduplicate() []BuildError {
	type key struct {
		file string
		line int
		msg  string
	}
	seen := map[key]bool{}
	var unique []BuildError

	for _, e := range p.errors {
		msg := e.Message
		if len(msg) > 50 {
			msg = msg[:50]
		}
		k := key{file: e.FilePath, line: e.LineNumber, msg: msg}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, e)
	}
	return unique
}

// FormatErrorsForFixer renders the errors as markdown for the fix request
// file, grouped by error type.
func FormatErrorsForFixer(errors []BuildError) string {
	if len(errors) == 0 {
		return "No specific errors extracted from build logs."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Vercel Build Errors\n\nFound %d error(s) that need to be fixed:\n\n", len(errors))

	byType := map[string][]BuildError{}
	var typeOrder []string
	for _, e := range errors {
		if _, ok := byType[e.ErrorType]; !ok {
			typeOrder = append(typeOrder, e.ErrorType)
		}
		byType[e.ErrorType] = append(byType[e.ErrorType], e)
	}

	for _, errorType := range typeOrder {
		group := byType[errorType]
		fmt.Fprintf(&b, "## %s Errors (%d)\n\n", titleCase(errorType), len(group))

		for i, e := range group {
			fmt.Fprintf(&b, "### Error %d\n", i+1)
			if e.FilePath != "" {
				location := "`" + e.FilePath + "`"
				if e.LineNumber > 0 {
					location += fmt.Sprintf(":%d", e.LineNumber)
					if e.Column > 0 {
						location += fmt.Sprintf(":%d", e.Column)
					}
				}
				fmt.Fprintf(&b, "**Location:** %s\n", location)
			}
			fmt.Fprintf(&b, "**Message:** %s\n", e.Message)
			if e.Context != "" {
				fmt.Fprintf(&b, "\n**Context:**\n```\n%s\n```\n", e.Context)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
