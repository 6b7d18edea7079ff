package scm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBackend is returned when a backend name does not match any
// supported backend.
var ErrUnknownBackend = errors.New("unknown backend")

// BackendID selects the concrete client implementation for a repository.
type BackendID string

// Supported backends.
const (
	BackendPerforce  BackendID = "perforce"
	BackendCVS       BackendID = "cvs"
	BackendBazaar    BackendID = "bazaar"
	BackendClearCase BackendID = "clearcase"
	BackendPlastic   BackendID = "plastic"
	BackendMonotone  BackendID = "monotone"
	BackendGit       BackendID = "git"
)

// Backends lists every supported backend in a stable order.
func Backends() []BackendID {
	return []BackendID{
		BackendPerforce,
		BackendCVS,
		BackendBazaar,
		BackendClearCase,
		BackendPlastic,
		BackendMonotone,
		BackendGit,
	}
}

// ParseBackendID resolves a case-insensitive backend name. A few historical
// aliases are accepted.
func ParseBackendID(name string) (BackendID, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))

	switch normalized {
	case "p4":
		return BackendPerforce, nil
	case "bzr":
		return BackendBazaar, nil
	case "plasticscm", "cm":
		return BackendPlastic, nil
	case "mtn":
		return BackendMonotone, nil
	}

	for _, id := range Backends() {
		if string(id) == normalized {
			return id, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// RepositoryConfig is the caller-owned description of a repository. Clients
// treat it as immutable for their lifetime.
type RepositoryConfig struct {
	// ID is a stable identifier used to segregate per-repository state such
	// as Perforce ticket files.
	ID         string
	Backend    BackendID
	Path       string
	MirrorPath string
	Username   string
	Password   string
	Encoding   string
	// LocalSite names the tenant that owns the repository; state stored on
	// disk is partitioned by it.
	LocalSite string
	ExtraData map[string]string
}

// Extra returns the extra_data value for key, or "".
func (c *RepositoryConfig) Extra(key string) string {
	if c.ExtraData == nil {
		return ""
	}

	return c.ExtraData[key]
}

// ExtraBool interprets the extra_data value for key as a boolean flag.
func (c *RepositoryConfig) ExtraBool(key string) bool {
	switch strings.ToLower(c.Extra(key)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
