package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const Version = "0.4.0"

func init() {
	initColorProfile()
}

// initColorProfile picks the lipgloss color profile. LINKDECK_COLOR overrides
// detection: truecolor, 256, 16, none.
func initColorProfile() {
	if colorEnv := os.Getenv("LINKDECK_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printHelp()
		return 0
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("linkdeck v%s\n", Version)
		return 0
	case "help", "--help", "-h":
		printHelp()
		return 0
	case "serve":
		return handleServe(args[1:])
	case "accounts", "account", "ls":
		return handleAccounts(args[1:])
	case "status":
		return handleStatus(args[1:])
	case "pair":
		return handlePair(args[1:])
	case "config":
		return handleConfig(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		fmt.Fprintln(os.Stderr, "Run 'linkdeck help' for usage.")
		return 2
	}
}

func printHelp() {
	fmt.Printf("linkdeck v%s\n", Version)
	fmt.Println("Multi-account messaging session daemon")
	fmt.Println()
	fmt.Println("Usage: linkdeck <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                    Run the daemon and its HTTP API")
	fmt.Println("  status                   Show a running daemon's accounts")
	fmt.Println("  pair <id> [--copy]       Start pairing an account and print its code")
	fmt.Println("  accounts [list]          List stored accounts")
	fmt.Println("  accounts export <file>   Write stored accounts to a JSON file")
	fmt.Println("  accounts import <file>   Load accounts from a JSON file")
	fmt.Println("  config init              Write an example config.toml")
	fmt.Println("  config path              Print the config file location")
	fmt.Println("  config show              Print the effective configuration")
	fmt.Println("  version                  Show version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  LINKDECK_HOME            Data directory (default: ~/.linkdeck)")
	fmt.Println("  LINKDECK_COLOR           truecolor, 256, 16 or none")
}
