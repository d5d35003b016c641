package fiscal

import "testing"

func TestValidCNPJ(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"11222333000181", true},
		{"11.222.333/0001-81", true},
		{"11222333000182", false},
		{"11111111111111", false},
		{"1122233300018", false},
		{"", false},
	}
	for _, c := range cases {
		if got := ValidCNPJ(c.in); got != c.want {
			t.Errorf("ValidCNPJ(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestValidCPF(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"52998224725", true},
		{"529.982.247-25", true},
		{"52998224726", false},
		{"00000000000", false},
		{"5299822472", false},
	}
	for _, c := range cases {
		if got := ValidCPF(c.in); got != c.want {
			t.Errorf("ValidCPF(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestValidTaxIDChoosesByLength(t *testing.T) {
	if !ValidTaxID("11.222.333/0001-81") {
		t.Error("expected CNPJ to validate")
	}
	if !ValidTaxID("529.982.247-25") {
		t.Error("expected CPF to validate")
	}
	if ValidTaxID("12345") {
		t.Error("expected short input to fail")
	}
}

func TestAccessKeyCheckDigit(t *testing.T) {
	base := "3520071420016600018755001000000004655000004"
	dv, ok := AccessKeyCheckDigit(base)
	if !ok {
		t.Fatal("expected check digit computation to succeed")
	}
	if dv != 4 {
		t.Errorf("check digit = %d, want 4", dv)
	}

	if _, ok := AccessKeyCheckDigit("123"); ok {
		t.Error("expected short base to be rejected")
	}
	if _, ok := AccessKeyCheckDigit("35200714200166000187550010000000046550000x4"); ok {
		t.Error("expected non-digit base to be rejected")
	}
}

func TestValidAccessKey(t *testing.T) {
	valid := "35200714200166000187550010000000046550000044"
	if !ValidAccessKey(valid) {
		t.Errorf("expected %q to validate", valid)
	}
	// Flip the check digit.
	if ValidAccessKey(valid[:43] + "5") {
		t.Error("expected wrong check digit to fail")
	}
	if ValidAccessKey(valid[:43]) {
		t.Error("expected 43-digit key to fail")
	}
}

func TestFormatting(t *testing.T) {
	if got := FormatCNPJ("11222333000181"); got != "11.222.333/0001-81" {
		t.Errorf("FormatCNPJ = %q", got)
	}
	if got := FormatCPF("52998224725"); got != "529.982.247-25" {
		t.Errorf("FormatCPF = %q", got)
	}
	if got := FormatCNPJ("123"); got != "123" {
		t.Errorf("FormatCNPJ on short input = %q, want passthrough", got)
	}
}
