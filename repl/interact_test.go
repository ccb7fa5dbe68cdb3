package repl

import "testing"

func TestParseMeta(t *testing.T) {
	cases := []struct {
		text string
		cmd  string
		args string
		ok   bool
	}{
		{"\\dt", "dt", "", true},
		{"\\d t", "d", "t", true},
		{"  \\timing  ", "timing", "", true},
		{"select * from t;", "", "", false},
		{"\\", "", "", false},
	}
	for _, c := range cases {
		cmd, args, ok := parseMeta(c.text)
		if cmd != c.cmd || args != c.args || ok != c.ok {
			t.Errorf("parseMeta(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.text, cmd, args, ok, c.cmd, c.args, c.ok)
		}
	}
}
