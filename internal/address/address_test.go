package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonc1987/fastmail/pkg/types"
)

func TestParseAddressesValid(t *testing.T) {
	parsed := ParseAddresses("Alice <alice@example.com>")
	require.Len(t, parsed, 1)
	assert.Equal(t, "alice@example.com", parsed[0].Address)
	assert.Equal(t, "Alice <alice@example.com>", parsed[0].Formatted)
}

func TestParseAddressesLowercases(t *testing.T) {
	parsed := ParseAddresses("Bob <BOB@Example.COM>")
	require.Len(t, parsed, 1)
	assert.Equal(t, "bob@example.com", parsed[0].Address)
	assert.Equal(t, "Bob <bob@example.com>", parsed[0].Formatted)
}

func TestParseAddressesBare(t *testing.T) {
	parsed := ParseAddresses("carol@example.com")
	require.Len(t, parsed, 1)
	assert.Equal(t, "carol@example.com", parsed[0].Formatted)
}

func TestParseAddressesDropsInvalid(t *testing.T) {
	parsed := ParseAddresses("not-an-email, alice@example.com, , also bad")
	require.Len(t, parsed, 1)
	assert.Equal(t, "alice@example.com", parsed[0].Address)
}

func TestNormalizeRecipientList(t *testing.T) {
	out, err := NormalizeRecipientList("Alice <alice@example.com>, bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice <alice@example.com>, bob@example.com", out)
}

func TestNormalizeRecipientListAllInvalid(t *testing.T) {
	_, err := NormalizeRecipientList("not-an-email")
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	assert.Contains(t, err.Error(), "at least one valid email address")
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("alice@example.com"))
	assert.False(t, Valid("not-an-email"))
}
