package peer

import "testing"

func TestParseIPv4(t *testing.T) {
	n, err := Parse("127.0.0.1:8080", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n.Kind() != KindIPv4 {
		t.Fatalf("expected IPv4, got %v", n.Kind())
	}
	if n.Port() != 8080 {
		t.Fatalf("expected port 8080, got %d", n.Port())
	}
	if got, want := n.String(), "127.0.0.1:8080"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseBracketedIPv6(t *testing.T) {
	n, err := Parse("[::1]:9000", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n.Kind() != KindIPv6 {
		t.Fatalf("expected IPv6, got %v", n.Kind())
	}
	if n.Port() != 9000 {
		t.Fatalf("expected port 9000, got %d", n.Port())
	}
}

func TestParseUnixWithOctalMode(t *testing.T) {
	n, err := Parse("unix:/tmp/sock:0640", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n.Kind() != KindUnix {
		t.Fatalf("expected Unix, got %v", n.Kind())
	}
	if n.Path() != "/tmp/sock" {
		t.Fatalf("path = %q", n.Path())
	}
	if n.Perms() != 0640 {
		t.Fatalf("perms = %o, want 0640", n.Perms())
	}
}

func TestParseUnixWithSymbolicMode(t *testing.T) {
	n, err := Parse("unix:/tmp/sock:u=rw,g=r,o=r", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n.Perms() != 0644 {
		t.Fatalf("perms = %o, want 0644", n.Perms())
	}
}

func TestParseAnyBind(t *testing.T) {
	for _, lit := range []string{"", "*", "0"} {
		n, err := Parse(lit, 1234)
		if err != nil {
			t.Fatalf("literal %q: %v", lit, err)
		}
		if n.Port() != 1234 {
			t.Fatalf("literal %q: port = %d", lit, n.Port())
		}
	}
}

func TestParseEphemeralPort(t *testing.T) {
	n, err := Parse("127.0.0.1:*", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n.Port() != 0 {
		t.Fatalf("expected ephemeral port 0, got %d", n.Port())
	}
}

func TestParseList(t *testing.T) {
	names, err := ParseList("127.0.0.1:80 [::1]:443 unix:/tmp/a.sock", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %d", len(names))
	}
}

func TestEqualAndHash(t *testing.T) {
	a, _ := Parse("10.0.0.1:80", 0)
	b, _ := Parse("10.0.0.1:80", 0)
	c, _ := Parse("10.0.0.2:80", 0)
	if !a.Equal(b) {
		t.Fatalf("expected a == b")
	}
	if a.Equal(c) {
		t.Fatalf("expected a != c")
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("expected equal hashes for equal names")
	}
}

func TestGroupID(t *testing.T) {
	n, _ := Parse("127.0.0.1:80", 0)
	g := n.WithGroup(GroupID(7))
	if g.Group() != 7 {
		t.Fatalf("expected group 7, got %d", g.Group())
	}
	if n.Group() != 0 {
		t.Fatalf("original Name must stay immutable")
	}
}

func TestBadLiteral(t *testing.T) {
	if _, err := Parse("[::1", 0); err == nil {
		t.Fatal("expected error for unterminated IPv6 literal")
	}
}
