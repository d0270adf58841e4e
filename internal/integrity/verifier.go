// Package integrity validates serialized infrastructure state and extracts the
// summary facts the catalog records about it. Verification is a pure function
// over bytes; it never panics and never returns an error out of band.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Warning messages attached to otherwise valid results.
const (
	WarnMissingResources   = "state has no resources field; assuming 0 resources"
	WarnMissingToolVersion = "state has no tool version"
)

// Result is the outcome of verifying one blob.
type Result struct {
	Valid         bool
	ResourceCount int
	ToolVersion   string
	Serial        int64
	Lineage       string
	Checksum      string
	Size          int64
	// MissingResources is set when the blob parsed but carried no resources
	// collection. Such blobs are valid: a fresh environment has zero resources.
	MissingResources bool
	Warnings         []string
	Err              error
}

type stateDocument struct {
	ToolVersion      *string         `json:"tool_version"`
	TerraformVersion *string         `json:"terraform_version"`
	Serial           *json.Number    `json:"serial"`
	Lineage          *string         `json:"lineage"`
	Resources        json.RawMessage `json:"resources"`
}

type resourceEntry struct {
	Mode string `json:"mode"`
}

// Verify parses blob as a state document and extracts its resource count and
// tool version. Malformed input yields Valid=false with Err describing why.
func Verify(blob []byte) Result {
	sum := sha256.Sum256(blob)
	res := Result{
		Checksum: hex.EncodeToString(sum[:]),
		Size:     int64(len(blob)),
	}

	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		res.Err = errors.New("empty state blob")
		return res
	}
	if trimmed[0] != '{' {
		res.Err = errors.New("state blob is not a JSON object")
		return res
	}

	var doc stateDocument
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		res.Err = fmt.Errorf("parse state blob: %w", err)
		return res
	}
	if dec.More() {
		res.Err = errors.New("parse state blob: trailing data after document")
		return res
	}

	switch {
	case doc.ToolVersion != nil && *doc.ToolVersion != "":
		res.ToolVersion = *doc.ToolVersion
	case doc.TerraformVersion != nil && *doc.TerraformVersion != "":
		res.ToolVersion = *doc.TerraformVersion
	default:
		res.Warnings = append(res.Warnings, WarnMissingToolVersion)
	}

	if doc.Serial != nil {
		serial, err := doc.Serial.Int64()
		if err != nil {
			res.Err = fmt.Errorf("parse state blob: serial %q is not an integer", doc.Serial.String())
			return res
		}
		res.Serial = serial
	}
	if doc.Lineage != nil {
		res.Lineage = *doc.Lineage
	}

	if len(doc.Resources) == 0 || string(doc.Resources) == "null" {
		res.MissingResources = true
		res.Warnings = append(res.Warnings, WarnMissingResources)
	} else {
		var resources []resourceEntry
		if err := json.Unmarshal(doc.Resources, &resources); err != nil {
			res.Err = fmt.Errorf("parse state blob: resources is not a list of objects: %w", err)
			return res
		}
		for _, r := range resources {
			if r.Mode == "" || r.Mode == "managed" {
				res.ResourceCount++
			}
		}
	}

	res.Valid = true
	return res
}

// CompareToolVersions compares two tool version strings as semantic versions.
// ok is false when either version cannot be parsed.
func CompareToolVersions(a, b string) (cmp int, ok bool) {
	va, vb := canonical(a), canonical(b)
	if va == "" || vb == "" {
		return 0, false
	}
	return semver.Compare(va, vb), true
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
