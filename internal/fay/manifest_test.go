package fay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePackageSet = `
# cross toolchain
[binutils]
version = 2.42
stage = 1
build-system = autotools
source = https://ftp.gnu.org/gnu/binutils/binutils-2.42.tar.xz
build-order = 1

[gcc]
version = 13.2.0
stage = 1
build-system = custom
source = https://ftp.gnu.org/gnu/gcc/gcc-13.2.0.tar.xz
depends = binutils
build = ./configure --prefix=/usr --target=${TARGET}
build = make -j${NPROC}
build = make DESTDIR=${PKG} install
provides = /usr/bin/gcc /usr/bin/cc
safe-flags = true

[zlib]
version = 1.3.1
stage = 3
build-system = make
source = https://zlib.net/zlib-1.3.1.tar.gz
environment = host
`

func TestParseManifests(t *testing.T) {
	store, err := ParseManifests(strings.NewReader(samplePackageSet))
	require.NoError(t, err)
	require.Len(t, store.All(), 3)

	gcc, err := store.Get("gcc")
	require.NoError(t, err)
	assert.Equal(t, "13.2.0", gcc.Version)
	assert.Equal(t, 1, gcc.Stage)
	assert.Equal(t, BuildCustom, gcc.BuildSystem)
	assert.Equal(t, []string{"binutils"}, gcc.Depends)
	assert.Equal(t, []string{"/usr/bin/gcc", "/usr/bin/cc"}, gcc.Provides)
	assert.True(t, gcc.SafeFlags)
	assert.Len(t, gcc.BuildCommands, 3)
	assert.False(t, gcc.UseGit())

	binutils, err := store.Get("binutils")
	require.NoError(t, err)
	assert.Equal(t, 1, binutils.BuildOrder)
	assert.Equal(t, orderUnset, gcc.BuildOrder)

	_, err = store.Get("nonesuch")
	assert.ErrorIs(t, err, ErrUnknownPackage)

	assert.Equal(t, []int{1, 3}, store.Stages())
}

func TestParseManifestsSkipsBrokenSections(t *testing.T) {
	// One section is missing its version, one references an unknown
	// placeholder, one is fine. Only the fine one must survive.
	src := `
[broken]
stage = 1
source = https://example.org/broken-1.tar.gz

[badtemplate]
version = 1.0
source = https://example.org/badtemplate-1.0.tar.gz
build = make ${WHATEVER}

[good]
version = 2.0
source = https://example.org/good-2.0.tar.gz
`
	store, err := ParseManifests(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, store.All(), 1)
	m, err := store.Get("good")
	require.NoError(t, err)
	assert.Equal(t, "2.0", m.Version)
}

func TestParseManifestsRejections(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown key", "[p]\nversion = 1\nsource = u\nbogus = x\n"},
		{"bad stage", "[p]\nversion = 1\nsource = u\nstage = abc\n"},
		{"both locators", "[p]\nversion = 1\nsource = u\ngit = g\n"},
		{"no locator", "[p]\nversion = 1\n"},
		{"custom without commands", "[p]\nversion = 1\nsource = u\nbuild-system = custom\n"},
		{"relative provides", "[p]\nversion = 1\nsource = u\nprovides = usr/bin/p\n"},
		{"bad environment", "[p]\nversion = 1\nsource = u\nenvironment = vm\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := ParseManifests(strings.NewReader(tt.src))
			require.NoError(t, err)
			assert.Empty(t, store.All())
		})
	}
}

func TestParseManifestsDanglingDependency(t *testing.T) {
	src := `
[app]
version = 1.0
source = https://example.org/app-1.0.tar.gz
depends = missing
`
	_, err := ParseManifests(strings.NewReader(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestManifestEnvSelection(t *testing.T) {
	assert.Equal(t, EnvHost, (&Manifest{Stage: 1}).Env())
	assert.Equal(t, EnvHost, (&Manifest{Stage: 2}).Env())
	assert.Equal(t, EnvChroot, (&Manifest{Stage: 3}).Env())
	assert.Equal(t, EnvChroot, (&Manifest{Stage: 7}).Env())
	// Explicit environment overrides the stage split.
	assert.Equal(t, EnvHost, (&Manifest{Stage: 5, Environment: EnvHost}).Env())
	assert.Equal(t, EnvChroot, (&Manifest{Stage: 1, Environment: EnvChroot}).Env())
}
