// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// configdoc prints the keyresolve configuration reference from struct tags.
// Usage: go run ./cmd/configdoc > doc/CONFIG_REFERENCE.md
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/aplane-algo/keyresolver/internal/keysource"
	"github.com/aplane-algo/keyresolver/internal/util"
)

type envVar struct {
	Name        string
	Description string
}

var envVars = []envVar{
	{"KEYRESOLVE_DATA", "Data directory holding config.yaml and the keyring (default `~/.keyresolve`)"},
	{"KEYRESOLVE_DEBUG", "Set to any value to enable debug logging"},
}

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: go run ./cmd/configdoc > doc/CONFIG_REFERENCE.md")
	}
	flag.Parse()
	writeReference(os.Stdout)
}

func writeReference(w io.Writer) {
	fmt.Fprintln(w, "# Configuration Reference")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Auto-generated from Go struct tags. Do not edit manually.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## keyresolve Configuration")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "File: `config.yaml` in the data directory (`-d` or `KEYRESOLVE_DATA`).")
	fmt.Fprintln(w, "Relative paths are resolved against the data directory.")
	fmt.Fprintln(w)
	writeStructTable(w, reflect.TypeOf(util.Config{}), "")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Keyring Files")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every `*.yaml` file in `keyring_dir` holds a `keys:` list of entries:")
	fmt.Fprintln(w)
	writeStructTable(w, reflect.TypeOf(keysource.KeyEntry{}), "")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Environment Variables")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Variable | Description |")
	fmt.Fprintln(w, "|----------|-------------|")
	for _, env := range envVars {
		fmt.Fprintf(w, "| `%s` | %s |\n", env.Name, env.Description)
	}
}

func writeStructTable(w io.Writer, t reflect.Type, prefix string) {
	if prefix == "" {
		fmt.Fprintln(w, "| Field | Type | Default | Description |")
		fmt.Fprintln(w, "|-------|------|---------|-------------|")
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := field.Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if prefix != "" {
			name = prefix + "." + name
		}

		desc := field.Tag.Get("description")

		// Nested blocks are listed with their fields flattened below them.
		if field.Type.Kind() == reflect.Ptr && field.Type.Elem().Kind() == reflect.Struct {
			if desc == "" {
				desc = "(nested config block)"
			}
			fmt.Fprintf(w, "| `%s` | object | (none) | %s |\n", name, desc)
			writeStructTable(w, field.Type.Elem(), name)
			continue
		}

		if desc == "" {
			desc = "(no description)"
		}
		def := field.Tag.Get("default")
		if def == "" {
			def = "(none)"
		}
		fmt.Fprintf(w, "| `%s` | %s | `%s` | %s |\n", name, typeName(field.Type), def, desc)
	}
}

func typeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Bool:
		return "bool"
	case reflect.Slice:
		return "[]" + typeName(t.Elem())
	case reflect.Ptr:
		return "*" + typeName(t.Elem())
	default:
		return t.String()
	}
}
