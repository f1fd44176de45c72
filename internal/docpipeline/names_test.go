package docpipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileName(t *testing.T) {
	hash := "0123456789abcdef0123"
	tests := []struct {
		recorded, url, want string
	}{
		{"Edital.pdf", "https://x.gov.br/a/b.pdf", "Edital.pdf"},
		{"", "https://x.gov.br/arquivos/termo%20de%20referencia.pdf?download=1", "termo de referencia.pdf"},
		{"", "https://x.gov.br/arquivos/", "0123456789ab.pdf"},
		{"  ", "", "0123456789ab.pdf"},
		{"", "https://pncp.gov.br/api/pncp/v1/orgaos/1/compras/2024/7/arquivos/3", "3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(tt.recorded, tt.url, hash), tt.url)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("application/pdf; charset=binary"))
	assert.Equal(t, "text/plain", ContentType(" text/plain "))
	assert.Equal(t, "", ContentType(""))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "ab", CleanText("a\x00b"))
	assert.Equal(t, "ação", CleanText("a\xffção"))
}
