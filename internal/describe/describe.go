// Package describe reads description files (spec §6 "Description file
// format"): a flat key=value document naming a ref to install from a
// remote the user may not have configured yet, consumed through
// Transaction.AddInstallFromDescription.
package describe

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/terassyi/depot/internal/depoterr"
)

// Description is a parsed description file. At minimum Name, Branch, and
// Url are required; RuntimeRepo and IsRuntime are optional.
type Description struct {
	Name        string
	Branch      string
	Url         string
	RuntimeRepo string
	IsRuntime   bool

	// extra carries any additional key=value pairs the file declared, kept
	// for completeness but not interpreted by the core.
	extra map[string]string
}

// Parse reads a flat key=value description document. Lines beginning with
// `#` or `[` (an optional INI-style group header, as real-world
// description files sometimes carry) are ignored; every other non-blank
// line must be `Key=Value`.
func Parse(raw []byte) (Description, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Description{}, depoterr.New(depoterr.CodeInvalidRef, "malformed description line").WithDetail("line", line)
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return Description{}, fmt.Errorf("scan description: %w", err)
	}

	d := Description{
		Name:        values["Name"],
		Branch:      values["Branch"],
		Url:         values["Url"],
		RuntimeRepo: values["RuntimeRepo"],
		IsRuntime:   values["IsRuntime"] == "true",
	}
	delete(values, "Name")
	delete(values, "Branch")
	delete(values, "Url")
	delete(values, "RuntimeRepo")
	delete(values, "IsRuntime")
	d.extra = values

	if d.Name == "" || d.Branch == "" || d.Url == "" {
		return Description{}, depoterr.New(depoterr.CodeInvalidRef, "description file missing required key").
			WithDetail("name", d.Name).WithDetail("branch", d.Branch).WithDetail("url", d.Url)
	}
	return d, nil
}

// Extra returns an additional key the description file declared beyond the
// fields Description promotes to struct fields.
func (d Description) Extra(key string) (string, bool) {
	v, ok := d.extra[key]
	return v, ok
}

// NewerRuntimeRepoVersion reports whether candidate is a newer RuntimeRepo
// version pin than current, using semantic-version comparison (enrichment:
// description files in the wild sometimes pin a RuntimeRepo by version
// suffix, e.g. "https://example.com/repo-1.2.0").
func NewerRuntimeRepoVersion(current, candidate string) (bool, error) {
	cv, err := versionSuffix(current)
	if err != nil {
		return false, err
	}
	nv, err := versionSuffix(candidate)
	if err != nil {
		return false, err
	}
	return nv.GreaterThan(cv), nil
}

func versionSuffix(uri string) (*semver.Version, error) {
	idx := strings.LastIndex(uri, "-")
	if idx < 0 {
		return nil, fmt.Errorf("no version suffix in %q", uri)
	}
	v, err := semver.NewVersion(uri[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("parse version suffix of %q: %w", uri, err)
	}
	return v, nil
}
