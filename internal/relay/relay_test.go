package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMessage(t *testing.T) {
	raw := string(BuildMessage(&Outbound{
		From:    "alice@example.com",
		To:      []string{"bob@example.com", "carol@example.com"},
		Subject: "Hello",
		Body:    "line one\nline two",
	}))

	assert.True(t, strings.HasPrefix(raw, "From: alice@example.com\r\n"))
	assert.Contains(t, raw, "To: bob@example.com, carol@example.com\r\n")
	assert.Contains(t, raw, "Subject: Hello\r\n")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=utf-8\r\n")

	parts := strings.SplitN(raw, "\r\n\r\n", 2)
	assert.Len(t, parts, 2)
	assert.Equal(t, "line one\nline two", parts[1])
}
