package handlers

import "testing"

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{
			"ASCII имя",
			"invoice.pdf",
			`attachment; filename=invoice.pdf`,
		},
		{
			"ASCII имя с пробелом",
			"annual report.pdf",
			`attachment; filename="annual report.pdf"`,
		},
		{
			"не-ASCII имя с RFC 5987 fallback",
			"счёт.pdf",
			`attachment; filename="____.pdf"; filename*=UTF-8''%D1%81%D1%87%D1%91%D1%82.pdf`,
		},
		{
			"смешанное имя",
			"facture_été.pdf",
			`attachment; filename="facture__t_.pdf"; filename*=UTF-8''facture_%C3%A9t%C3%A9.pdf`,
		},
	}

	for _, tt := range tests {
		if got := contentDisposition(tt.filename); got != tt.want {
			t.Errorf("%s: contentDisposition(%q) = %q, ожидается %q", tt.name, tt.filename, got, tt.want)
		}
	}
}
