//go:build nogit

package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/registry"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

func TestGit_NotBuilt(t *testing.T) {
	t.Parallel()

	reg := registry.New()

	for _, capability := range reg.Probe(testEnv()) {
		if capability.Backend == scm.BackendGit {
			assert.False(t, capability.Available)
			assert.Equal(t, "libgit2", capability.Missing)
		}
	}

	_, err := reg.Open(&scm.RepositoryConfig{Backend: scm.BackendGit, Path: "/srv/git/project.git"}, testEnv())
	require.ErrorIs(t, err, registry.ErrNoConstructor)
	assert.Contains(t, err.Error(), "built without libgit2")
}

func TestGit_NotBuiltWithConstructor(t *testing.T) {
	t.Parallel()

	stub := &stubClient{backend: scm.BackendGit}
	reg := registry.New(registry.WithConstructor(scm.BackendGit,
		func(*scm.RepositoryConfig, backends.Env) (scm.Client, error) { return stub, nil }))

	client, err := reg.Open(&scm.RepositoryConfig{Backend: scm.BackendGit, Path: "x"}, testEnv())
	require.NoError(t, err)
	assert.Same(t, stub, client)
}
