package company

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Acme Ltda.", "acme"},
		{"ACME S.A.", "acme"},
		{"Açúcar & Cia S/A", "acucar"},
		{"Padaria São João ME", "padaria sao joao"},
		{"Acme Inc, LLC", "acme"},
		{"  Globex   Corporation  ", "globex corporation"},
		{"Co", "co"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestNormalizeTaxID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "11222333000181", NormalizeTaxID("11.222.333/0001-81"))
	assert.Equal(t, "11222333000181", NormalizeTaxID(" 11222333000181 "))
	assert.Empty(t, NormalizeTaxID("11.222.333/0001"))
	assert.Empty(t, NormalizeTaxID(""))
}

func TestValidTaxID(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidTaxID("11.222.333/0001-81"))
	assert.True(t, ValidTaxID("12345678000195"))
	assert.False(t, ValidTaxID("12345678000190"))
	assert.False(t, ValidTaxID("11222333000182"))
	assert.False(t, ValidTaxID("11111111111111"))
	assert.False(t, ValidTaxID("123"))
}

func TestFormatTaxID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "11.222.333/0001-81", FormatTaxID("11222333000181"))
	assert.Equal(t, "abc", FormatTaxID("abc"))
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Acme.com.br/contato", "acme.com.br"},
		{"acme.com.br:8080", "acme.com.br"},
		{"http://ACME.COM.BR.", "acme.com.br"},
		{"www.acme.com.br", "acme.com.br"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDomain(tt.in), tt.in)
	}
}

func TestNormalizeSocialURL(t *testing.T) {
	t.Parallel()

	want := "https://linkedin.com/company/acme"
	assert.Equal(t, want, NormalizeSocialURL("http://www.LinkedIn.com/company/Acme/?trk=x#about"))
	assert.Equal(t, want, NormalizeSocialURL("linkedin.com/company/acme"))
	assert.Empty(t, NormalizeSocialURL("  "))
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "+5511987654321", NormalizePhone("(11) 98765-4321", ""))
	assert.Equal(t, "+5511987654321", NormalizePhone("+55 11 98765 4321", "BR"))
	assert.Empty(t, NormalizePhone("123", ""))
	assert.Empty(t, NormalizePhone("", ""))
}
