package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	for in, want := range map[string]Platform{
		"ios":       PlatformIOS,
		" Android ": PlatformAndroid,
		"WEB":       PlatformWeb,
		"desktop":   PlatformDesktop,
	} {
		got, err := ParsePlatform(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "windows", "tv"} {
		_, err := ParsePlatform(in)
		assert.Error(t, err, in)
	}
	assert.False(t, Platform("").Valid())
}
