package registry

import (
	"github.com/Sumatoshi-tech/scmkit/pkg/backends"
	"github.com/Sumatoshi-tech/scmkit/pkg/scm"
)

const stunnelTool = "stunnel"

// Capability is the probe result for one backend.
type Capability struct {
	Backend scm.BackendID `json:"backend" yaml:"backend"`
	// Tool is the executable the backend runs; empty when it runs in-process.
	Tool string `json:"tool,omitempty" yaml:"tool,omitempty"`
	// Path is where Tool resolved on PATH.
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Available bool   `json:"available" yaml:"available"`
	// Missing names the executable or native library that could not be found.
	Missing  string   `json:"missing,omitempty" yaml:"missing,omitempty"`
	Features Features `json:"features" yaml:"features"`
}

// Probe reports which backends can run on this host. It only resolves
// executables on PATH and never starts them.
func (r *Registry) Probe(env backends.Env) []Capability {
	caps := make([]Capability, 0, len(scm.Backends()))

	for _, id := range scm.Backends() {
		e, ok := r.entries[id]
		if !ok {
			continue
		}

		capability := Capability{
			Backend:   id,
			Tool:      r.Tool(id, env),
			Available: true,
			Features:  r.Features(id),
		}

		if e.missing != "" {
			capability.Available = false
			capability.Missing = e.missing
		}

		if capability.Available && capability.Tool != "" {
			path, err := r.lookPath(capability.Tool)
			if err != nil {
				capability.Available = false
				capability.Missing = capability.Tool
			}

			capability.Path = path
		}

		caps = append(caps, capability)
	}

	return caps
}

// ProbeStunnel reports whether the stunnel executable used for stunnel:
// Perforce ports is installed.
func (r *Registry) ProbeStunnel(env backends.Env) Capability {
	tool := env.Stunnel.Executable
	if tool == "" {
		tool = stunnelTool
	}

	capability := Capability{Backend: scm.BackendPerforce, Tool: tool, Available: true}

	path, err := r.lookPath(tool)
	if err != nil {
		capability.Available = false
		capability.Missing = tool
	}

	capability.Path = path

	return capability
}
