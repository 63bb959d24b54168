// Copyright (C) The Streamworkers Authors. All rights reserved.

package broker

import (
	"fmt"

	"github.com/streamworkers/dispatchcore/internal/processor"
)

// A CommandBuilder materializes the opaque launch spec a Broker consumes,
// given the processor to launch and the job model's server URL.
type CommandBuilder interface {
	Build(pid processor.ID, jobModelServerURL string) LaunchSpec
}

// CommandBuilderFactory constructs a CommandBuilder from configuration.
// Keyed registration replaces dynamic class loading: the configured
// command-builder name is resolved to a factory at startup instead of
// loading a plugin class at runtime.
type CommandBuilderFactory func(config map[string]string) CommandBuilder

var commandBuilders = map[string]CommandBuilderFactory{
	"default": newDefaultCommandBuilder,
}

// RegisterCommandBuilder makes a named factory available to
// BuildCommandBuilder. It is
// meant to be called from package init functions, the way cloud drivers
// register themselves.
func RegisterCommandBuilder(name string, f CommandBuilderFactory) {
	commandBuilders[name] = f
}

// BuildCommandBuilder resolves name to a CommandBuilder using the
// registered factory.
func BuildCommandBuilder(name string, config map[string]string) (CommandBuilder, error) {
	f, ok := commandBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unknown command-builder %q", name)
	}
	return f(config), nil
}

type defaultCommandBuilder struct {
	config map[string]string
}

func newDefaultCommandBuilder(config map[string]string) CommandBuilder {
	return &defaultCommandBuilder{config: config}
}

// Build returns a minimal launch spec: a process invocation naming the
// processor and pointing it at the job model server.
func (b *defaultCommandBuilder) Build(pid processor.ID, jobModelServerURL string) LaunchSpec {
	spec := LaunchSpec{
		"run-processor",
		"--processor-id=" + string(pid),
		"--job-model-server-url=" + jobModelServerURL,
	}
	for k, v := range b.config {
		spec = append(spec, fmt.Sprintf("--%s=%s", k, v))
	}
	return spec
}
