package cmdline

import "fmt"

// PrintUsage writes the command listing to stdout. Output is best-effort;
// write failures are non-fatal for a usage banner.
func PrintUsage(programName string) {
	_, _ = fmt.Println(programName)
	_, _ = fmt.Println("Usage: psmux <command> [flags] [args]")
	_, _ = fmt.Println("Supported commands:")
	for _, name := range commandOrder {
		_, _ = fmt.Printf("  %s\n", name)
	}
}
