package normalize

import "testing"

const sceneA = `from manim import *

class Demo(Scene):
    def construct(self):
        c = Circle(color="#FF0000")  # red circle
        self.play(Create(c))
        self.wait()
`

func TestCodeKeyIgnoresCommentsAndLayout(t *testing.T) {
	reordered := "from manim import *\nclass Demo(Scene):\n    def construct(self):\n        c = Circle(color=\"#FF0000\")\n        self.wait()\n        self.play(Create(c))\n"
	if CodeKey(sceneA) == CodeKey(reordered) {
		t.Fatal("structurally different code must not share a key")
	}

	same := "from manim import *\nclass Demo(Scene):\n  # two-space indent\n  def construct(self):\n    c = Circle(\n        color=\"#FF0000\"\n    )\n    self.play(Create(c))  \n    self.wait()"
	if a, b := CodeKey(sceneA), CodeKey(same); a != b {
		t.Errorf("keys differ:\n%s\n---\n%s", a, b)
	}
}

func TestCodeKeyKeepsStrings(t *testing.T) {
	a := `x = "a  # not a comment"`
	b := `x = "a # not a comment"`
	if CodeKey(a) == CodeKey(b) {
		t.Error("string contents must be preserved")
	}
	if got := CodeKey(a); got != `x="a  # not a comment"` {
		t.Errorf("got %q", got)
	}
}

func TestCodeKeyDocstring(t *testing.T) {
	src := "def f():\n    \"\"\"Doc\n\n    # kept\n    \"\"\"\n    return 1\n"
	want := "def f():\n\t\"\"\"Doc\n\n    # kept\n    \"\"\"\n\treturn 1"
	if got := CodeKey(src); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCodeKeyContinuations(t *testing.T) {
	a := "x = 1 + \\\n    2\n"
	b := "x = 1 + 2\n"
	if CodeKey(a) != CodeKey(b) {
		t.Errorf("%q != %q", CodeKey(a), CodeKey(b))
	}
}

func TestCodeKeyWordSpacing(t *testing.T) {
	if got := CodeKey("def   f ( a ,b ) :\n    return   a"); got != "def f(a,b):\n\treturn a" {
		t.Errorf("got %q", got)
	}
}

func TestLineCount(t *testing.T) {
	if n := LineCount(CodeKey(sceneA)); n != 6 {
		t.Errorf("LineCount = %d, want 6", n)
	}
	if n := LineCount(""); n != 0 {
		t.Errorf("LineCount(\"\") = %d", n)
	}
}

func TestCodeKeyIgnoresBOM(t *testing.T) {
	if a, b := CodeKey("\uFEFF"+sceneA), CodeKey(sceneA); a != b {
		t.Errorf("byte order mark changed the key:\n%s\n---\n%s", a, b)
	}
}

func TestBadDedent(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"consistent", sceneA, 0},
		{"dedent to open level", "class A:\n    def f(self):\n        pass\n    def g(self):\n        pass\n", 0},
		{"dedent between levels", "class A:\n    def f(self):\n        x = 1\n      y = 2\n        z = 3\n", 4},
		{"inside brackets", "x = [\n        1,\n   2,\n]\ny = 1\n", 0},
		{"inside docstring", "def f():\n    \"\"\"doc\n  text\n    \"\"\"\n    return 1\n", 0},
		{"after comment", "def f():\n    # note\n\n    x = 1\n   y = 2\n", 5},
		{"continuation keeps rows", "def f():\n    x = 1 + \\\n2\n    y = 2\n  z = 3\n", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BadDedent(tt.code); got != tt.want {
				t.Errorf("BadDedent = %d, want %d", got, tt.want)
			}
		})
	}
}
