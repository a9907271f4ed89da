package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/warden/cmd"
	"grimm.is/warden/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	defaultConfig := brand.DefaultConfigDir + "/" + brand.ConfigFileName

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", defaultConfig, "Configuration file")
		startFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		stateDir := startFlags.String("state-dir", "", "Override state directory")
		startFlags.Parse(os.Args[2:])

		if err := cmd.RunStart(*configFile, *stateDir); err != nil {
			fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := defaultConfig
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "show":
		showFlags := flag.NewFlagSet("show", flag.ExitOnError)
		configFile := showFlags.String("config", defaultConfig, "Configuration file")
		showFlags.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		format := showFlags.String("format", "table", "Output format: table or yaml")
		showFlags.StringVar(format, "o", "table", "Output format (short)")
		showFlags.Parse(os.Args[2:])

		if err := cmd.RunShow(*configFile, *format); err != nil {
			fmt.Fprintf(os.Stderr, "Show failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("%s version %s\n", brand.Name, brand.Version)
		fmt.Printf("Build: %s\n", brand.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  start     Run the control plane
            Options: --config (-c) <file>, --state-dir <dir>
  check     Validate configuration and stored policy records
            Options: --verbose (-v)
  show      Display stored policy rules
            Options: --config (-c) <file>, --format (-o) table|yaml
  version   Print version info

Examples:
  %s start -c /etc/%s/%s
  %s check -v %s
  %s show -o yaml
`,
		brand.Name, brand.Description,
		brand.BinaryName,
		brand.BinaryName, brand.BinaryName, brand.ConfigFileName,
		brand.BinaryName, brand.DefaultConfigDir+"/"+brand.ConfigFileName,
		brand.BinaryName)
}
