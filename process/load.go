package process

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teranos/pulseflow/errors"
)

// ParseDefinition decodes and builds a YAML process definition
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, errors.Wrap(err, "failed to decode process definition")
	}
	if err := d.Build(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDefinition reads a YAML process definition from disk
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	d, err := ParseDefinition(data)
	if err != nil {
		return nil, errors.WithDetail(err, "File: "+path)
	}
	return d, nil
}
