// Package capability defines the catalog entries behind an account's
// feature map: namespaced capability descriptors with a version and an
// optional JSON-schema parameter contract. What a capability computes is
// opaque to the agent; it only needs capabilities to be named,
// discoverable and requestable as a subset.
package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Descriptor describes one named capability. Name is a namespaced
// string, "namespace:method", e.g. "standard:signMessage". Params, when
// present, is a JSON schema for the capability's invocation parameters
// and must compile.
type Descriptor struct {
	Name        string
	Version     string
	Description string
	Params      json.RawMessage
}

// ParseName splits a capability name into namespace and method,
// rejecting anything that is not "namespace:method".
func ParseName(name string) (string, string, error) {
	ns, method, ok := strings.Cut(name, ":")
	if !ok || len(ns) == 0 || len(method) == 0 {
		return "", "", fmt.Errorf("capability name %q must have namespace:method form", name)
	}
	return ns, method, nil
}

// Validate checks the descriptor's name shape, version and schema.
func (d *Descriptor) Validate() error {
	if _, _, err := ParseName(d.Name); err != nil {
		return err
	}
	if len(d.Version) > 0 {
		if _, err := semver.NewVersion(d.Version); err != nil {
			return fmt.Errorf("capability %s version %q: %w", d.Name, d.Version, err)
		}
	}
	if len(d.Params) > 0 {
		if _, err := jsonschema.CompileString(d.Name+".schema.json", string(d.Params)); err != nil {
			return fmt.Errorf("capability %s params schema: %w", d.Name, err)
		}
	}
	return nil
}

// Satisfies reports whether the descriptor's version matches a semver
// constraint such as ">= 1.2". A descriptor without a version only
// satisfies the empty constraint.
func (d *Descriptor) Satisfies(constraint string) (bool, error) {
	if len(constraint) == 0 {
		return true, nil
	}
	if len(d.Version) == 0 {
		return false, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(d.Version)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// ValidateParams validates an invocation payload against the
// descriptor's Params schema. Descriptors without a schema accept
// anything.
func (d *Descriptor) ValidateParams(payload []byte) error {
	if len(d.Params) == 0 {
		return nil
	}
	schema, err := jsonschema.CompileString(d.Name+".schema.json", string(d.Params))
	if err != nil {
		return fmt.Errorf("capability %s params schema: %w", d.Name, err)
	}
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("capability %s params: %w", d.Name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("capability %s params rejected: %w", d.Name, err)
	}
	return nil
}

// Union returns the sorted union of capability names across feature
// maps. The wallet-level union is advisory only; apps discover
// per-account capabilities through each account's own map.
func Union(featureMaps ...map[string]*Descriptor) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, features := range featureMaps {
		for name := range features {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
