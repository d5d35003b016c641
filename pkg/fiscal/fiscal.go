// Package fiscal implements the checksum arithmetic of Brazilian fiscal
// identifiers: CNPJ, CPF and the 44-digit electronic document access key.
// All functions accept formatted or bare input and are pure.
package fiscal

import "strings"

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// mod11 computes a check digit from digit string s and a weight table of the
// same length: the weighted sum mod 11, mapped to 0 when the remainder is
// below 2 and to 11-remainder otherwise.
func mod11(s string, weights []int) int {
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += int(s[i]-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidCNPJ reports whether s is a valid 14-digit CNPJ. Formatting
// punctuation is ignored; repeated-digit sequences are rejected.
func ValidCNPJ(s string) bool {
	d := Digits(s)
	if len(d) != 14 || allSame(d) {
		return false
	}
	if mod11(d[:12], cnpjWeights1) != int(d[12]-'0') {
		return false
	}
	return mod11(d[:13], cnpjWeights2) == int(d[13]-'0')
}

// ValidCPF reports whether s is a valid 11-digit CPF.
func ValidCPF(s string) bool {
	d := Digits(s)
	if len(d) != 11 || allSame(d) {
		return false
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	if mod11(d[:9], w1) != int(d[9]-'0') {
		return false
	}
	return mod11(d[:10], w2) == int(d[10]-'0')
}

// ValidTaxID reports whether s is a valid CNPJ or CPF, chosen by digit count.
func ValidTaxID(s string) bool {
	switch len(Digits(s)) {
	case 14:
		return ValidCNPJ(s)
	case 11:
		return ValidCPF(s)
	default:
		return false
	}
}

// AccessKeyCheckDigit computes the verification digit of the first 43 digits
// of an access key. Weights cycle 2 through 9 starting from the rightmost
// digit; a remainder of 0 or 1 yields digit 0.
func AccessKeyCheckDigit(base string) (int, bool) {
	if len(base) != 43 {
		return 0, false
	}
	sum := 0
	weight := 2
	for i := len(base) - 1; i >= 0; i-- {
		c := base[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		sum += int(c-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	r := sum % 11
	if r < 2 {
		return 0, true
	}
	return 11 - r, true
}

// ValidAccessKey reports whether s is a well-formed 44-digit access key with
// a correct check digit.
func ValidAccessKey(s string) bool {
	d := Digits(s)
	if len(d) != 44 {
		return false
	}
	dv, ok := AccessKeyCheckDigit(d[:43])
	if !ok {
		return false
	}
	return dv == int(d[43]-'0')
}

// FormatCNPJ renders a 14-digit CNPJ as XX.XXX.XXX/XXXX-XX. Input that is
// not 14 digits is returned unchanged.
func FormatCNPJ(s string) string {
	d := Digits(s)
	if len(d) != 14 {
		return s
	}
	return d[:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:]
}

// FormatCPF renders an 11-digit CPF as XXX.XXX.XXX-XX. Input that is not 11
// digits is returned unchanged.
func FormatCPF(s string) string {
	d := Digits(s)
	if len(d) != 11 {
		return s
	}
	return d[:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:]
}
