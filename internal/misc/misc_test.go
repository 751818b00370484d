package misc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(-4, 1, 10))
	assert.Equal(t, 10, Clamp(99, 1, 10))
	assert.Equal(t, 5, Clamp(5, 1, 10))
}

func TestStringLimit(t *testing.T) {
	assert.Equal(t, "", StringLimit("abc", -1))
	assert.Equal(t, "ab", StringLimit("abcdef", 2))
	assert.Equal(t, "abc...", StringLimit("abcdefghij", 6))
	assert.Equal(t, "short", StringLimit("short", 10))
}

func TestBytesLimit_DoesNotClobberInput(t *testing.T) {
	in := []byte("0123456789")
	out := BytesLimit(in, 6)
	assert.Equal(t, "012...", string(out))
	assert.Equal(t, "0123456789", string(in))
}
