package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestStampedBuild(t *testing.T) {
	oldV, oldC := Version, CommitHash
	t.Cleanup(func() { Version, CommitHash = oldV, oldC })

	assert.False(t, Get().IsRelease())

	Version, CommitHash = "1.4.0", "0123456789abcdef"
	info := Get()
	assert.True(t, info.IsRelease())
	assert.Equal(t, "0123456", info.Short())
	assert.Contains(t, info.String(), "docpipe 1.4.0 (commit 0123456")
	assert.Equal(t, "docpipe/1.4.0", UserAgent())
}
