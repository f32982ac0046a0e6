package normalize

import "strings"

// CodeKey returns the canonical form of Python source used for equality.
//
// Comments and blank lines are dropped, bracket and backslash continuations are
// joined into one logical line, indentation is replaced by the nesting depth,
// and whitespace between tokens is removed unless it separates two word
// characters. String literals are copied verbatim, so a '#' inside a string is
// never treated as a comment.
func CodeKey(code string) string {
	lines := logicalLines(code)
	depths, _ := nesting(lines)
	out := make([]string, len(lines))
	for i, ln := range lines {
		out[i] = strings.Repeat("\t", depths[i]) + ln.text
	}
	return strings.Join(out, "\n")
}

// BadDedent returns the 1-based line of the first logical line whose indent
// drops to a column no enclosing block uses, or 0 when every dedent lands on
// an open level. Python rejects such code with "unindent does not match any
// outer indentation level".
func BadDedent(code string) int {
	_, bad := nesting(logicalLines(code))
	return bad
}

// nesting maps each logical line to its block depth using an indent stack.
// bad is the line of the first inconsistent dedent; that line keeps the depth
// of the nearest open level below its indent.
func nesting(lines []logicalLine) (depths []int, bad int) {
	stack := []int{0}
	depths = make([]int, len(lines))
	for i, ln := range lines {
		top := stack[len(stack)-1]
		if ln.indent > top {
			stack = append(stack, ln.indent)
		} else {
			for len(stack) > 1 && ln.indent < stack[len(stack)-1] {
				stack = stack[:len(stack)-1]
			}
			if ln.indent != stack[len(stack)-1] && bad == 0 {
				bad = ln.line
			}
		}
		depths[i] = len(stack) - 1
	}
	return depths, bad
}

// LineCount returns the number of logical lines in a code key.
func LineCount(key string) int {
	if key == "" {
		return 0
	}
	return strings.Count(key, "\n") + 1
}

type logicalLine struct {
	indent int
	// line is the 1-based physical line the logical line starts on.
	line int
	text string
}

type scanner struct {
	src   string
	i     int
	cur   strings.Builder
	lines []logicalLine

	indent int
	line   int
	row    int
	col    int
	depth  int
	space  bool
}

func logicalLines(code string) []logicalLine {
	s := &scanner{src: strings.TrimPrefix(code, "\uFEFF")}
	s.run()
	return s.lines
}

func (s *scanner) run() {
	for s.i < len(s.src) {
		c := s.src[s.i]
		switch {
		case c == '\r':
			s.i++
		case c == '\n':
			s.i++
			s.row++
			if s.depth > 0 {
				s.space = true
				continue
			}
			s.flush()
		case c == '\\' && s.continuation():
		case c == ' ' || c == '\t' || c == '\f':
			s.i++
			if s.cur.Len() > 0 {
				s.space = true
				continue
			}
			switch c {
			case ' ':
				s.col++
			case '\t':
				s.col = (s.col/8 + 1) * 8
			case '\f':
				s.col = 0
			}
		case c == '#':
			for s.i < len(s.src) && s.src[s.i] != '\n' {
				s.i++
			}
		case c == '\'' || c == '"':
			s.emit(c)
			s.str(c)
		default:
			s.emit(c)
			s.i++
			switch c {
			case '(', '[', '{':
				s.depth++
			case ')', ']', '}':
				if s.depth > 0 {
					s.depth--
				}
			}
		}
	}
	s.flush()
}

// continuation consumes a backslash-newline pair outside a string literal.
func (s *scanner) continuation() bool {
	rest := s.src[s.i+1:]
	switch {
	case strings.HasPrefix(rest, "\n"):
		s.i += 2
	case strings.HasPrefix(rest, "\r\n"):
		s.i += 3
	default:
		return false
	}
	s.row++
	s.space = true
	return true
}

// emit writes the separator owed before c and records the line indent.
func (s *scanner) emit(c byte) {
	if s.cur.Len() == 0 {
		s.indent = s.col
		s.line = s.row + 1
	} else if s.space {
		last := s.cur.String()[s.cur.Len()-1]
		if isWord(last) && isWord(c) {
			s.cur.WriteByte(' ')
		}
	}
	s.space = false
	if c != '\'' && c != '"' {
		s.cur.WriteByte(c)
	}
}

// str copies a string literal starting at s.i verbatim.
func (s *scanner) str(q byte) {
	triple := strings.Repeat(string(q), 3)
	long := strings.HasPrefix(s.src[s.i:], triple)
	if long {
		s.cur.WriteString(triple)
		s.i += 3
	} else {
		s.cur.WriteByte(q)
		s.i++
	}
	for s.i < len(s.src) {
		c := s.src[s.i]
		switch {
		case c == '\\':
			s.cur.WriteByte(c)
			if s.i+1 < len(s.src) {
				s.cur.WriteByte(s.src[s.i+1])
				if s.src[s.i+1] == '\n' {
					s.row++
				}
			}
			s.i += 2
		case long && strings.HasPrefix(s.src[s.i:], triple):
			s.cur.WriteString(triple)
			s.i += 3
			return
		case !long && c == q:
			s.cur.WriteByte(c)
			s.i++
			return
		case !long && c == '\n':
			// Unterminated literal; let the newline end the logical line.
			return
		default:
			if c == '\n' {
				s.row++
			}
			s.cur.WriteByte(c)
			s.i++
		}
	}
}

func (s *scanner) flush() {
	if s.cur.Len() > 0 {
		s.lines = append(s.lines, logicalLine{indent: s.indent, line: s.line, text: s.cur.String()})
	}
	s.cur.Reset()
	s.col = 0
	s.space = false
	s.depth = 0
}

func isWord(c byte) bool {
	return c == '_' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
