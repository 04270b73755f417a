package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfigFile decodes a YAML file into a Config, for use as a base
// that command-line flags (via github.com/jpillora/opts) then
// override. Unknown keys are rejected so a typo in the file surfaces
// immediately rather than silently doing nothing, matching the strict
// decoding the teacher's yaml.v3 dependency is already pinned for.
func LoadConfigFile(path string) (Config, error) {
	var c Config
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("server: opening config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("server: decoding config file %s: %w", path, err)
	}
	return c, nil
}
