package checksum

import "testing"

func TestSum_Stable(t *testing.T) {
	a := Sum([]byte("class A(Scene): pass"))
	b := Sum([]byte("class A(Scene): pass"))
	if a != b || len(a) != 64 {
		t.Errorf("sum = %q / %q", a, b)
	}
}

func TestShort(t *testing.T) {
	s := Short("x")
	if len(s) != 16 {
		t.Fatalf("len = %d", len(s))
	}
	if s != Sum([]byte("x"))[:16] {
		t.Error("short digest is not a prefix of the full digest")
	}
}
