package storage

import "testing"

func TestMatchesEmptyWhereAlwaysMatches(t *testing.T) {
	ok, err := Matches(Record{"name": "ada"}, nil)
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !ok {
		t.Errorf("Matches with no clauses: want true")
	}
}

func TestMatchesEq(t *testing.T) {
	r := Record{"email": "ada@example.com"}
	if ok, _ := Matches(r, []Where{Eq("email", "ada@example.com")}); !ok {
		t.Errorf("Matches: want true for matching eq clause")
	}
	if ok, _ := Matches(r, []Where{Eq("email", "other@example.com")}); ok {
		t.Errorf("Matches: want false for non-matching eq clause")
	}
}

func TestMatchesNe(t *testing.T) {
	r := Record{"status": "active"}
	where := []Where{{Field: "status", Value: "disabled", Operator: OpNe, Connector: And}}
	if ok, _ := Matches(r, where); !ok {
		t.Errorf("Matches OpNe: want true when field differs from value")
	}
}

func TestMatchesInAndNotIn(t *testing.T) {
	r := Record{"scope": "openid"}
	in := []Where{{Field: "scope", Value: []string{"openid", "profile"}, Operator: OpIn, Connector: And}}
	if ok, _ := Matches(r, in); !ok {
		t.Errorf("Matches OpIn: want true, field present in set")
	}

	notIn := []Where{{Field: "scope", Value: []string{"profile", "email"}, Operator: OpNotIn, Connector: And}}
	if ok, _ := Matches(r, notIn); !ok {
		t.Errorf("Matches OpNotIn: want true, field absent from set")
	}
}

func TestMatchesNumericComparisons(t *testing.T) {
	r := Record{"attempts": 3}
	cases := []struct {
		op   Operator
		val  any
		want bool
	}{
		{OpGt, 2, true},
		{OpGt, 3, false},
		{OpGte, 3, true},
		{OpLt, 4, true},
		{OpLte, 3, true},
		{OpLte, 2, false},
	}
	for _, c := range cases {
		where := []Where{{Field: "attempts", Value: c.val, Operator: c.op, Connector: And}}
		got, err := Matches(r, where)
		if err != nil {
			t.Fatalf("Matches(%s, %v): %v", c.op, c.val, err)
		}
		if got != c.want {
			t.Errorf("Matches(attempts=3, %s %v) = %v, want %v", c.op, c.val, got, c.want)
		}
	}
}

func TestMatchesStringOperators(t *testing.T) {
	r := Record{"redirectUri": "https://app.example.com/callback"}
	cases := []struct {
		op   Operator
		val  string
		want bool
	}{
		{OpStartsWith, "https://app.example.com", true},
		{OpStartsWith, "https://evil.example.com", false},
		{OpEndsWith, "/callback", true},
		{OpContains, "example.com", true},
		{OpContains, "no-such-substring", false},
	}
	for _, c := range cases {
		where := []Where{{Field: "redirectUri", Value: c.val, Operator: c.op, Connector: And}}
		got, err := Matches(r, where)
		if err != nil {
			t.Fatalf("Matches(%s, %q): %v", c.op, c.val, err)
		}
		if got != c.want {
			t.Errorf("Matches(%s, %q) = %v, want %v", c.op, c.val, got, c.want)
		}
	}
}

func TestMatchesUnknownOperatorReturnsError(t *testing.T) {
	where := []Where{{Field: "x", Value: "y", Operator: Operator("bogus"), Connector: And}}
	if _, err := Matches(Record{"x": "y"}, where); err == nil {
		t.Errorf("Matches with unknown operator: want error")
	}
}

func TestMatchesLeftToRightWithConnectors(t *testing.T) {
	r := Record{"role": "admin", "active": false}
	// role == "admin" AND active == true OR role == "admin" — demonstrates the
	// strictly left-to-right evaluation with no precedence rewriting.
	where := []Where{
		Eq("role", "admin"),
		{Field: "active", Value: true, Operator: OpEq, Connector: And},
		{Field: "role", Value: "admin", Operator: OpEq, Connector: Or},
	}
	ok, err := Matches(r, where)
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !ok {
		t.Errorf("Matches: want true — the trailing OR clause should rescue the false AND result")
	}
}

func TestMatchesAnyValueTypeSlice(t *testing.T) {
	r := Record{"providerId": "google"}
	where := []Where{{Field: "providerId", Value: []any{"google", "github"}, Operator: OpIn, Connector: And}}
	ok, err := Matches(r, where)
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !ok {
		t.Errorf("Matches OpIn over []any: want true")
	}
}
