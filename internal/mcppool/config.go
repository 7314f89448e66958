package mcppool

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerDef describes one external MCP tool server.
type ServerDef struct {
	// Name identifies the server in tool routing. Must be unique.
	Name string `yaml:"name"`
	// Command is the executable to spawn.
	Command string `yaml:"command"`
	// Args are passed to the command.
	Args []string `yaml:"args"`
	// Env sets explicit environment variables for the child process.
	Env map[string]string `yaml:"env"`
	// PassEnv lists parent environment keys forwarded to the child.
	// Anything not listed here or in Env is withheld.
	PassEnv []string `yaml:"pass_env"`
}

type serversFile struct {
	Servers []ServerDef `yaml:"servers"`
}

// LoadServerDefs reads server definitions from a YAML file.
func LoadServerDefs(path string) ([]ServerDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server definitions: %w", err)
	}

	var file serversFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse server definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Servers))
	for i, def := range file.Servers {
		if def.Name == "" {
			return nil, fmt.Errorf("server %d: name is required", i)
		}
		if def.Command == "" {
			return nil, fmt.Errorf("server %q: command is required", def.Name)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("duplicate server name %q", def.Name)
		}
		seen[def.Name] = true
	}
	return file.Servers, nil
}

// childEnv builds the environment for a tool-server process. Only
// allow-listed parent variables and explicit overrides are included, so
// parent credentials never leak into tool servers.
func childEnv(def ServerDef) []string {
	env := make([]string, 0, len(def.PassEnv)+len(def.Env))
	for _, key := range def.PassEnv {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	for key, val := range def.Env {
		env = append(env, key+"="+val)
	}
	return env
}

// String returns a loggable one-line summary of the definition.
func (d ServerDef) String() string {
	return fmt.Sprintf("%s: %s %s", d.Name, d.Command, strings.Join(d.Args, " "))
}
