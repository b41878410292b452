package diver_test

import (
	"math"
	"testing"

	"github.com/deepsea/diver"
	"github.com/google/go-cmp/cmp"
)

func TestParseKind(t *testing.T) {
	if k, err := diver.ParseKind("Double"); err != nil {
		t.Fatal(err)
	} else if k != diver.KindDouble {
		t.Fatalf("unexpected kind: %s", k)
	}

	if _, err := diver.ParseKind("invalid"); err == nil || err.Error() != `diver: unknown kind: "invalid"` {
		t.Fatalf("unexpected error: %v", err)
	} else if _, err := diver.ParseKind("string"); err == nil || err.Error() != `diver: unknown kind: "string"` {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKind(t *testing.T) {
	for _, tt := range []struct {
		kind     diver.Kind
		width    uint
		integral bool
		signed   bool
	}{
		{diver.KindBool, 1, false, false},
		{diver.KindByte, 8, true, true},
		{diver.KindChar, 16, true, false},
		{diver.KindShort, 16, true, true},
		{diver.KindInt, 32, true, true},
		{diver.KindLong, 64, true, true},
		{diver.KindFloat, 32, false, false},
		{diver.KindDouble, 64, false, false},
	} {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if w := tt.kind.Width(); w != tt.width {
				t.Fatalf("unexpected width: %d", w)
			} else if v := tt.kind.IsIntegral(); v != tt.integral {
				t.Fatalf("unexpected integral: %v", v)
			} else if v := tt.kind.IsSigned(); v != tt.signed {
				t.Fatalf("unexpected signed: %v", v)
			}
		})
	}
}

func TestValue(t *testing.T) {
	t.Run("Concrete", func(t *testing.T) {
		v := diver.Int(-3)
		if !v.IsConstant() || !v.IsValid() {
			t.Fatal("expected valid concrete value")
		} else if v.Int() != -3 || v.Long() != -3 {
			t.Fatalf("unexpected value: %d", v.Long())
		} else if v.Bits() != 0xFFFFFFFD {
			t.Fatalf("unexpected bits: %#x", v.Bits())
		} else if s := v.String(); s != "int:-3" {
			t.Fatalf("unexpected string: %s", s)
		}
	})

	t.Run("Symbolic", func(t *testing.T) {
		v := diver.NewSymbolicValue(diver.Long(7), diver.NewVarExpr("n", diver.KindLong))
		if v.IsConstant() {
			t.Fatal("expected symbolic value")
		} else if s := v.String(); s != "long:7=(var n long)" {
			t.Fatalf("unexpected string: %s", s)
		} else if c := v.Concrete(); !c.IsConstant() || !c.Equal(v) {
			t.Fatalf("unexpected concrete part: %s", c)
		} else if diff := cmp.Diff(diver.Expr(diver.NewVarExpr("n", diver.KindLong)), v.Term()); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ConstantExpr", func(t *testing.T) {
		v := diver.NewSymbolicValue(diver.Int(1), diver.NewConstantExpr(1, 32))
		if !v.IsConstant() {
			t.Fatal("expected constant expression to be dropped")
		}
	})

	t.Run("Zero", func(t *testing.T) {
		if v := diver.Zero(diver.KindDouble); v.Double() != 0 || v.Kind() != diver.KindDouble {
			t.Fatalf("unexpected value: %s", v)
		} else if (diver.Value{}).IsValid() {
			t.Fatal("expected zero Value to be invalid")
		}
	})

	t.Run("Char", func(t *testing.T) {
		if v := diver.Char(65535); v.Int() != 65535 || v.Format() != "65535" {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("Float", func(t *testing.T) {
		if v := diver.Float(1.5); v.Double() != 1.5 || v.Format() != "1.5" {
			t.Fatalf("unexpected value: %s", v)
		}
	})
}

func TestValueOf(t *testing.T) {
	if v, err := diver.ValueOf(diver.KindShort, diver.NewConstantExpr(0xFFFF, 16)); err != nil {
		t.Fatal(err)
	} else if v.Long() != -1 {
		t.Fatalf("unexpected value: %s", v)
	}

	if v, err := diver.ValueOf(diver.KindFloat, diver.NewFloatConstantExpr(2.5, 32)); err != nil {
		t.Fatal(err)
	} else if v.Float() != 2.5 {
		t.Fatalf("unexpected value: %s", v)
	}

	if _, err := diver.ValueOf(diver.KindLong, diver.NewConstantExpr(1, 32)); err == nil || err.Error() != "constant (const 1 32) is not a long" {
		t.Fatalf("unexpected error: %v", err)
	} else if _, err := diver.ValueOf(diver.KindInt, diver.NewVarExpr("x", diver.KindInt)); err == nil || err.Error() != "expression is not constant: (var x int)" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseValue(t *testing.T) {
	for _, tt := range []struct {
		kind diver.Kind
		s    string
		want diver.Value
	}{
		{diver.KindBool, "true", diver.Bool(true)},
		{diver.KindByte, "-128", diver.Byte(-128)},
		{diver.KindChar, "0x41", diver.Char(65)},
		{diver.KindShort, "-2", diver.Short(-2)},
		{diver.KindInt, "2147483647", diver.Int(math.MaxInt32)},
		{diver.KindLong, "-9223372036854775808", diver.Long(math.MinInt64)},
		{diver.KindFloat, "0.1", diver.Float(0.1)},
		{diver.KindDouble, "-2.5e3", diver.Double(-2500)},
	} {
		t.Run(tt.kind.String(), func(t *testing.T) {
			v, err := diver.ParseValue(tt.kind, tt.s)
			if err != nil {
				t.Fatal(err)
			} else if !v.Equal(tt.want) {
				t.Fatalf("unexpected value: %s", v)
			}
		})
	}

	for _, tt := range []struct {
		name string
		kind diver.Kind
		s    string
		err  string
	}{
		{"Overflow", diver.KindByte, "128", `diver: invalid byte literal: "128"`},
		{"NotANumber", diver.KindInt, "twelve", `diver: invalid int literal: "twelve"`},
		{"NegativeChar", diver.KindChar, "-1", `diver: invalid char literal: "-1"`},
		{"Bool", diver.KindBool, "yes", `diver: invalid bool literal: "yes"`},
		{"Invalid", diver.KindInvalid, "1", "diver: cannot parse invalid value"},
	} {
		t.Run("Err"+tt.name, func(t *testing.T) {
			if _, err := diver.ParseValue(tt.kind, tt.s); err == nil || err.Error() != tt.err {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestInput(t *testing.T) {
	in := diver.Input{"y": diver.Int(-2), "x": diver.Bool(true)}

	if diff := cmp.Diff([]string{"x", "y"}, in.Names()); diff != "" {
		t.Fatal(diff)
	} else if s := in.String(); s != "{x=true y=-2}" {
		t.Fatalf("unexpected string: %s", s)
	} else if diff := cmp.Diff(map[string]string{"x": "true", "y": "-2"}, in.Strings()); diff != "" {
		t.Fatal(diff)
	}

	merged := in.Merge(diver.Input{"y": diver.Int(4), "z": diver.Long(1)})
	if s := merged.String(); s != "{x=true y=4 z=1}" {
		t.Fatalf("unexpected merge: %s", s)
	} else if s := in.String(); s != "{x=true y=-2}" {
		t.Fatalf("merge modified receiver: %s", s)
	}

	clone := in.Clone()
	clone["x"] = diver.Bool(false)
	if !in["x"].Bool() {
		t.Fatal("clone shares storage with receiver")
	}
}
