package sat

import (
	"testing"

	"github.com/deepsea/diver"
)

// Ensure separately built but equal subtrees reuse one circuit.
func TestBlaster_Blast_StructuralCache(t *testing.T) {
	x := diver.NewVarExpr("x", diver.KindInt)
	build := func() diver.Expr {
		return diver.NewBinaryExpr(diver.MUL, x, diver.NewBinaryExpr(diver.ADD, x, diver.NewConstantExpr32(3)))
	}

	b := newBlaster()
	a, err := b.blast(build())
	if err != nil {
		t.Fatal(err)
	}
	n := cacheLen(b)

	c, err := b.blast(build())
	if err != nil {
		t.Fatal(err)
	} else if len(a) != len(c) {
		t.Fatalf("width mismatch: %d != %d", len(a), len(c))
	}
	for i := range a {
		if a[i] != c[i] {
			t.Fatalf("bit %d not shared: %v != %v", i, a[i], c[i])
		}
	}
	if got := cacheLen(b); got != n {
		t.Fatalf("cache grew from %d to %d", n, got)
	}

	if _, err := b.blast(diver.NewBinaryExpr(diver.MUL, x, diver.NewBinaryExpr(diver.ADD, x, diver.NewConstantExpr32(4)))); err != nil {
		t.Fatal(err)
	} else if got := cacheLen(b); got <= n {
		t.Fatalf("expected new entries for a different constant, got %d", got)
	}
}

func cacheLen(b *blaster) int {
	var n int
	for _, ents := range b.cache {
		n += len(ents)
	}
	return n
}
