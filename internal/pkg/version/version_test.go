package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersion(t *testing.T) {
	fill()
	v, c := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = v, c })

	Version, GitCommit = "1.2.0", "0123456789abcdef"
	assert.Equal(t, "1.2.0-0123456", GetVersion())

	GitCommit = "unknown"
	assert.Equal(t, "1.2.0", GetVersion())
}

func TestGetFullVersion(t *testing.T) {
	full := GetFullVersion()
	assert.Contains(t, full, Version)
	assert.Contains(t, full, runtime.Version())
	assert.Contains(t, full, runtime.GOOS+"/"+runtime.GOARCH)
}
