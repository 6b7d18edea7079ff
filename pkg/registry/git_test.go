//go:build !nogit

package registry_test

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/scmkit/pkg/registry"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

func TestGit_BuiltIn(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.WithLookPath(func(string) (string, error) { return "", exec.ErrNotFound }))

	for _, capability := range reg.Probe(testEnv()) {
		if capability.Backend == scm.BackendGit {
			assert.True(t, capability.Available)
			assert.Empty(t, capability.Missing)
		}
	}

	client, err := reg.Open(&scm.RepositoryConfig{Backend: scm.BackendGit, Path: "/srv/git/project.git"}, testEnv())
	require.NoError(t, err)
	assert.Equal(t, scm.BackendGit, client.Backend())
	require.NoError(t, client.Close())
}
