//go:build !nogit

package registry

import (
	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/backends/git"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

func gitEntry() entry {
	return entry{
		construct: func(repo *scm.RepositoryConfig, env backends.Env) (scm.Client, error) {
			return git.New(repo, env)
		},
		features: Features{Changesets: true},
	}
}
