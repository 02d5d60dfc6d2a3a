package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecOptions(t *testing.T) {
	base := len(ExecOptions(Config{}))
	assert.Equal(t, 5, base)

	full := ExecOptions(Config{
		Headless:        true,
		ExecPath:        "/usr/bin/chromium",
		UserDataDir:     t.TempDir(),
		IgnoreTLSErrors: true,
		Args:            []string{"--lang=en-US", "mute-audio"},
	})
	assert.Len(t, full, base+6)
}
