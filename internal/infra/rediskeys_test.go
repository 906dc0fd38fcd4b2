package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatMirrorRoundTrip(t *testing.T) {
	seen := time.Date(2026, 3, 1, 12, 0, 0, 42, time.UTC)
	raw := HeartbeatMirrorValue(seen, 30*time.Second)

	gotSeen, gotInterval, ok := ParseHeartbeatMirror(raw)
	require.True(t, ok)
	assert.True(t, gotSeen.Equal(seen))
	assert.Equal(t, 30*time.Second, gotInterval, "интервал едет вместе с временем: порог протухания у Console тот же, что у площадки")
}

func TestParseHeartbeatMirrorRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"1757500000000000000", // голое время без интервала
		"not-a-number:30000",
		"1757500000000000000:x",
		"1757500000000000000:0", // нулевой интервал не дает порога
		"1757500000000000000:-5",
	}
	for _, raw := range cases {
		_, _, ok := ParseHeartbeatMirror(raw)
		assert.False(t, ok, "raw=%q", raw)
	}
}
