// Package protofile reads and writes a sandbox's sandbox.proto record: a
// small text format ("key: value", nested messages in braces) in the shape
// of protobuf's text format, without depending on a protobuf toolchain
// being available to generate it.
package protofile

import (
	"bytes"
	"fmt"
	"strconv"
	"text/scanner"

	"github.com/cuemby/sandboxd/pkg/types"
)

// Marshal renders spec to its on-disk text form.
func Marshal(spec *types.Spec) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "role: %q\n", spec.Role)
	fmt.Fprintf(&buf, "owner: %q\n", spec.Owner)
	fmt.Fprintf(&buf, "version: %q\n", spec.Version)
	fmt.Fprintf(&buf, "system: %q\n", spec.System)
	fmt.Fprintf(&buf, "system_options: %q\n", spec.SystemOptions)
	fmt.Fprintf(&buf, "provisioning_time: %d\n", spec.ProvisioningTime)
	buf.WriteString("requirements {\n")
	fmt.Fprintf(&buf, "  disk: %q\n", spec.Requirements.Disk)
	for _, p := range spec.Requirements.Ports {
		fmt.Fprintf(&buf, "  ports: %d\n", p)
	}
	buf.WriteString("}\n")
	return buf.Bytes()
}

// tokenize splits data into the flat token stream protofile's grammar needs:
// identifiers, quoted strings, integers, and the bare punctuation ':', '{', '}'.
func tokenize(data []byte) []string {
	var s scanner.Scanner
	s.Init(bytes.NewReader(data))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings
	s.Error = func(*scanner.Scanner, string) {} // tolerate stray bytes rather than aborting the whole file

	var tokens []string
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		tokens = append(tokens, s.TokenText())
	}
	return tokens
}

// Unmarshal parses data back into a Spec.
func Unmarshal(data []byte) (*types.Spec, error) {
	tokens := tokenize(data)
	spec := &types.Spec{}
	inRequirements := false

	for i := 0; i < len(tokens); {
		key := tokens[i]
		i++

		if key == "}" {
			inRequirements = false
			continue
		}

		if i < len(tokens) && tokens[i] == "{" {
			if key == "requirements" {
				inRequirements = true
			}
			i++
			continue
		}

		if i < len(tokens) && tokens[i] == ":" {
			i++
		}
		if i >= len(tokens) {
			break
		}
		value := tokens[i]
		i++

		switch {
		case inRequirements && key == "disk":
			spec.Requirements.Disk = unquote(value)
		case inRequirements && key == "ports":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("protofile: invalid ports value %q: %w", value, err)
			}
			spec.Requirements.Ports = append(spec.Requirements.Ports, n)
		case key == "role":
			spec.Role = unquote(value)
		case key == "owner":
			spec.Owner = unquote(value)
		case key == "version":
			spec.Version = unquote(value)
		case key == "system":
			spec.System = unquote(value)
		case key == "system_options":
			spec.SystemOptions = unquote(value)
		case key == "provisioning_time":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("protofile: invalid provisioning_time %q: %w", value, err)
			}
			spec.ProvisioningTime = n
		}
	}
	return spec, nil
}

func unquote(s string) string {
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}
