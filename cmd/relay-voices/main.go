package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-tts-relay/internal/voices"
)

var version = "0.1.0-dev"

func main() {
	var catalogPath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&catalogPath, "file", "voices.yaml", "Path to voice catalog")
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listCmd.StringVar(&catalogPath, "file", "", "Path to voice catalog (built-in list when empty)")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'list' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := runValidate(catalogPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("catalog valid")
	case "list":
		listCmd.Parse(os.Args[2:])
		if err := runList(catalogPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runValidate(path string) error {
	f, err := voices.Load(path)
	if err != nil {
		return err
	}
	return voices.Validate(f)
}

// runList prints the catalog in the same shape GET /voices returns.
func runList(path string) error {
	catalog := voices.Default()
	if path != "" {
		c, err := voices.LoadCatalog(path)
		if err != nil {
			return err
		}
		catalog = c
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(catalog.List())
}
