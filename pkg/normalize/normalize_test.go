package normalize

import "testing"

func TestNormalize_NumbersCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5", "5"},
		{"5.0", "5"},
		{"+5", "5"},
		{" 5 ", "5"},
		{"5e0", "5"},
		{"005", "5"},
		{"-0", "0"},
		{"-0.000", "0"},
		{"1.50", "1.5"},
		{".5", "0.5"},
		{"1.5e-3", "0.0015"},
		{"1.25e1", "12.5"},
		{"15e-1", "1.5"},
		{"1e3", "1000"},
		{"-12.340", "-12.34"},
		{"12345678901234567890", "12345678901234567890"},
	}

	for _, tc := range cases {
		k := Normalize(tc.in, true)
		if k.Kind() != KindNumber {
			t.Fatalf("%q: expected number kind, got %s", tc.in, k.Kind())
		}
		if k.Text() != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.in, tc.want, k.Text())
		}
	}
}

func TestNormalize_NumericEquality(t *testing.T) {
	a := Normalize("5", false)
	b := Normalize("5.0", false)
	if a != b {
		t.Fatalf("expected %v == %v", a, b)
	}
	if a.String() != b.String() {
		t.Fatalf("expected identical hash forms, got %q and %q", a.String(), b.String())
	}
}

func TestNormalize_TextNotNumber(t *testing.T) {
	for _, in := range []string{"1/3", "0x10", "1e", "abc", "1,000", "5 apples", "1e99999"} {
		if k := Normalize(in, true); k.Kind() != KindText {
			t.Fatalf("%q: expected text kind, got %s", in, k.Kind())
		}
	}
}

func TestNormalize_CaseSensitivity(t *testing.T) {
	upper := "Test@x.com"
	lower := "test@x.com"

	if Normalize(upper, false) != Normalize(lower, false) {
		t.Fatal("expected case-insensitive keys to be equal")
	}
	if Normalize(upper, true) == Normalize(lower, true) {
		t.Fatal("expected case-sensitive keys to differ")
	}
}

func TestNormalize_FoldIsLocaleIndependent(t *testing.T) {
	if Normalize("\u00c9COLE", false) != Normalize("\u00e9cole", false) {
		t.Fatal("expected accented capitals to fold")
	}
	if Normalize("ISTANBUL", false) != Normalize("istanbul", false) {
		t.Fatal("expected ASCII I to fold to i")
	}
}

func TestNormalize_TrimsAndNFC(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"
	if Normalize("  "+composed+"\t", true) != Normalize(decomposed, true) {
		t.Fatal("expected trimmed NFC forms to be equal")
	}
}

func TestNormalize_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n"} {
		k := Normalize(in, false)
		if !k.IsEmpty() {
			t.Fatalf("%q: expected empty key", in)
		}
		if k != Empty {
			t.Fatalf("%q: expected the Empty key", in)
		}
	}
	if Normalize("0", false).IsEmpty() {
		t.Fatal("zero must not be empty")
	}
}

func TestNormalize_Pure(t *testing.T) {
	inputs := []string{"Alice", "5.00", "  Bob ", "", "ÉCOLE"}
	first := make([]Key, len(inputs))
	for i, in := range inputs {
		first[i] = Normalize(in, false)
	}
	for round := 0; round < 3; round++ {
		for i := len(inputs) - 1; i >= 0; i-- {
			if got := Normalize(inputs[i], false); got != first[i] {
				t.Fatalf("round %d: %q normalized to %v, previously %v", round, inputs[i], got, first[i])
			}
		}
	}
}

func TestKey_ParseRoundTrip(t *testing.T) {
	for _, in := range []string{"5.0", "hello", ""} {
		k := Normalize(in, false)
		if got := Parse(k.String()); got != k {
			t.Fatalf("%q: parse(%q) = %v, want %v", in, k.String(), got, k)
		}
	}
	if Normalize("5", true) == Normalize("five", true) {
		t.Fatal("unexpected equality")
	}
}
