package content

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var errPythonSyntax = errors.New("python syntax error")

// An '=' token is never followed by a separate token starting with '='.
var doubledAssign = regexp.MustCompile(`=\s+=`)

// danglingOps cannot end a logical line. '*' is absent for "from m import *",
// '.' for the Ellipsis literal and ',' for bare tuples.
const danglingOps = "=+-/%&|^<>@"

// pySymbols holds top-level definitions in source order.
type pySymbols struct {
	classes []string
	funcs   []string
}

type logicalLine struct {
	code   string // strings reduced to "", comments removed
	indent int
	lineNo int
}

// scanPython finds top-level def, async def and class names. It is a
// tokenizer-level check, not a full parser: it rejects unbalanced brackets,
// unterminated strings, bad indentation, dangling operators and definition
// headers without a name or a colon.
func scanPython(src string) (pySymbols, error) {
	lines, err := logicalLines(src)
	if err != nil {
		return pySymbols{}, err
	}
	if err := checkBlocks(lines); err != nil {
		return pySymbols{}, err
	}

	var syms pySymbols
	for _, ll := range lines {
		if ll.indent != 0 {
			continue
		}
		code := ll.code
		isClass := false
		switch {
		case hasKeyword(code, "class"):
			code, isClass = code[len("class"):], true
		case hasKeyword(code, "def"):
			code = code[len("def"):]
		case hasKeyword(code, "async"):
			rest := strings.TrimLeft(code[len("async"):], " \t")
			if !hasKeyword(rest, "def") {
				continue
			}
			code = rest[len("def"):]
		default:
			continue
		}

		name, rest := identifier(strings.TrimLeft(code, " \t"))
		if name == "" {
			return pySymbols{}, fmt.Errorf("%w: line %d: missing definition name", errPythonSyntax, ll.lineNo)
		}
		if !headerTerminated(rest, !isClass) {
			return pySymbols{}, fmt.Errorf("%w: line %d: malformed header for %s", errPythonSyntax, ll.lineNo, name)
		}
		if isClass {
			syms.classes = append(syms.classes, name)
		} else {
			syms.funcs = append(syms.funcs, name)
		}
	}
	return syms, nil
}

// checkBlocks applies the tokenizer's INDENT/DEDENT rules: a line ending in
// a colon opens a block that must be indented deeper, other lines may not
// indent, and a dedent must return to an enclosing level.
func checkBlocks(lines []logicalLine) error {
	levels := []int{0}
	expectBlock := false
	for _, ll := range lines {
		top := levels[len(levels)-1]
		switch {
		case expectBlock:
			if ll.indent <= top {
				return fmt.Errorf("%w: line %d: expected an indented block", errPythonSyntax, ll.lineNo)
			}
			levels = append(levels, ll.indent)
		case ll.indent > top:
			return fmt.Errorf("%w: line %d: unexpected indent", errPythonSyntax, ll.lineNo)
		case ll.indent < top:
			for len(levels) > 1 && levels[len(levels)-1] > ll.indent {
				levels = levels[:len(levels)-1]
			}
			if levels[len(levels)-1] != ll.indent {
				return fmt.Errorf("%w: line %d: unindent does not match any outer level", errPythonSyntax, ll.lineNo)
			}
		}
		if err := checkStatement(ll); err != nil {
			return err
		}
		expectBlock = strings.HasSuffix(ll.code, ":")
	}
	if expectBlock {
		return fmt.Errorf("%w: expected an indented block at end of file", errPythonSyntax)
	}
	return nil
}

// checkStatement rejects operator sequences no Python statement contains.
// Strings and comments are already stripped from ll.code.
func checkStatement(ll logicalLine) error {
	code := ll.code
	if strings.HasPrefix(code, "=") {
		return fmt.Errorf("%w: line %d: statement starts with '='", errPythonSyntax, ll.lineNo)
	}
	if doubledAssign.MatchString(code) {
		return fmt.Errorf("%w: line %d: invalid syntax near '='", errPythonSyntax, ll.lineNo)
	}
	if last := code[len(code)-1]; strings.IndexByte(danglingOps, last) >= 0 {
		return fmt.Errorf("%w: line %d: statement ends with %q", errPythonSyntax, ll.lineNo, last)
	}
	return nil
}

// logicalLines joins physical lines the way the Python tokenizer does:
// across open brackets, backslash continuations and triple-quoted strings.
func logicalLines(src string) ([]logicalLine, error) {
	var (
		out       []logicalLine
		cur       strings.Builder
		stack     []rune
		indent    int
		started   bool
		lineStart = true
		lineNo    = 1
		startLine = 1
	)

	flush := func() {
		if code := strings.TrimSpace(cur.String()); code != "" {
			out = append(out, logicalLine{code: code, indent: indent, lineNo: startLine})
		}
		cur.Reset()
		started, lineStart, indent = false, true, 0
	}

	rs := []rune(src)
	for i := 0; i < len(rs); i++ {
		c := rs[i]

		if !started {
			if lineStart && (c == ' ' || c == '\t' || c == '\f') {
				indent++
				continue
			}
			switch c {
			case '\r':
				continue
			case '\n':
				lineNo++
				indent, lineStart = 0, true
				continue
			case '#':
				for i < len(rs) && rs[i] != '\n' {
					i++
				}
				i--
				continue
			}
			started, lineStart, startLine = true, false, lineNo
		}

		switch {
		case c == '#':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			i--
		case c == '\\':
			if i+1 < len(rs) && rs[i+1] == '\n' {
				i++
				lineNo++
				cur.WriteByte(' ')
				continue
			}
			if i+2 < len(rs) && rs[i+1] == '\r' && rs[i+2] == '\n' {
				i += 2
				lineNo++
				cur.WriteByte(' ')
				continue
			}
			cur.WriteRune(c)
		case c == '\'' || c == '"':
			end, lines, ok := skipString(rs, i)
			if !ok {
				return nil, fmt.Errorf("%w: line %d: unterminated string", errPythonSyntax, lineNo)
			}
			lineNo += lines
			i = end
			cur.WriteString(`""`)
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, c)
			cur.WriteRune(c)
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != opening(c) {
				return nil, fmt.Errorf("%w: line %d: unmatched %q", errPythonSyntax, lineNo, c)
			}
			stack = stack[:len(stack)-1]
			cur.WriteRune(c)
		case c == '\n':
			lineNo++
			if len(stack) > 0 {
				cur.WriteByte(' ')
				continue
			}
			flush()
		case c == '\r':
		default:
			cur.WriteRune(c)
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: unclosed %q at end of file", errPythonSyntax, stack[len(stack)-1])
	}
	flush()
	return out, nil
}

// skipString returns the index of the closing quote of the string literal
// starting at i, and how many newlines it spans.
func skipString(rs []rune, i int) (int, int, bool) {
	q := rs[i]
	triple := i+2 < len(rs) && rs[i+1] == q && rs[i+2] == q
	newlines := 0
	if triple {
		for j := i + 3; j < len(rs); j++ {
			switch rs[j] {
			case '\\':
				if j+1 < len(rs) && rs[j+1] == '\n' {
					newlines++
				}
				j++
			case '\n':
				newlines++
			case q:
				if j+2 < len(rs) && rs[j+1] == q && rs[j+2] == q {
					return j + 2, newlines, true
				}
			}
		}
		return 0, 0, false
	}
	for j := i + 1; j < len(rs); j++ {
		switch rs[j] {
		case '\\':
			if j+1 < len(rs) && rs[j+1] == '\n' {
				newlines++
			}
			j++
		case '\n':
			return 0, 0, false
		case q:
			return j, newlines, true
		}
	}
	return 0, 0, false
}

func opening(c rune) rune {
	switch c {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}

func hasKeyword(code, kw string) bool {
	if !strings.HasPrefix(code, kw) || len(code) == len(kw) {
		return false
	}
	next := rune(code[len(kw)])
	return next == ' ' || next == '\t'
}

func identifier(s string) (string, string) {
	end := 0
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			end = i + len(string(r))
			continue
		}
		break
	}
	return s[:end], s[end:]
}

// headerTerminated checks the remainder of a def or class header after the
// name: a parameter list (required for def), then a colon at bracket depth 0.
func headerTerminated(rest string, needParams bool) bool {
	rest = strings.TrimLeft(rest, " \t")
	if needParams && !strings.HasPrefix(rest, "(") {
		return false
	}
	depth := 0
	for _, r := range rest {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ':':
			if depth == 0 {
				return true
			}
		}
	}
	return false
}
