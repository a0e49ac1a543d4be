package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/linkdeck/internal/config"
)

func handleConfig(args []string) int {
	if len(args) == 0 {
		fmt.Println("Usage: linkdeck config <init|path|show>")
		return 2
	}
	path, err := config.Path()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch args[0] {
	case "path":
		fmt.Println(path)
		return 0
	case "init":
		existed := fileExists(path)
		if err := config.CreateExample(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if existed {
			fmt.Printf("%s config already exists: %s\n", dimStyle.Render("-"), path)
		} else {
			fmt.Printf("%s wrote example config: %s\n", successStyle.Render(successSymbol), path)
		}
		return 0
	case "show":
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (showing defaults)\n", err)
		}
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown config subcommand %q\n", args[0])
		return 2
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
