package isa

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// targetFile is the on-disk form of a target. A file may start from a
// built-in target and override individual fields.
type targetFile struct {
	Base      string `yaml:"base"`
	TargetISA `yaml:",inline"`
}

// Parse reads a target descriptor from yaml
func Parse(data []byte) (*TargetISA, error) {
	var probe struct {
		Base string `yaml:"base"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}

	file := targetFile{}
	if probe.Base != "" {
		base, err := Lookup(probe.Base)
		if err != nil {
			return nil, err
		}
		file.TargetISA = *base
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}
	t := file.TargetISA
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadFile reads a target descriptor from a yaml file
func LoadFile(path string) (*TargetISA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Resolve accepts either a built-in target name or a path to a yaml file
func Resolve(nameOrPath string) (*TargetISA, error) {
	if t, err := Lookup(nameOrPath); err == nil {
		return t, nil
	}
	if _, err := os.Stat(nameOrPath); err == nil {
		return LoadFile(nameOrPath)
	}
	return Lookup(nameOrPath)
}
