package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestString(t *testing.T) {
	is := is.New(t)

	s := String()
	is.True(strings.HasPrefix(s, "narrator dev"))
	is.True(strings.Contains(s, runtime.Version()))
}

func TestStringStampedVersion(t *testing.T) {
	is := is.New(t)

	orig := Version
	Version = "v1.2.3"
	defer func() { Version = orig }()

	is.True(strings.HasPrefix(String(), "narrator v1.2.3"))
}

func TestCommitNeverEmpty(t *testing.T) {
	is := is.New(t)

	// Test binaries carry no VCS stamp, so this exercises the fallback.
	is.True(Commit() != "")
}
