//go:build !windows

// Package main provides stubs for service functions on non-Windows platforms.
package main

import "fmt"

// RunAsService is a no-op on non-Windows platforms.
// Returns false to indicate the application should run normally.
func RunAsService() (bool, error) {
	return false, nil
}

// HandleServiceCommand handles service-related command-line arguments.
// On non-Windows platforms only "help" does real work; the management
// commands print a notice and exit so scripts fail loudly rather than
// silently starting a foreground server.
func HandleServiceCommand(args []string) bool {
	if len(args) < 2 {
		return false
	}

	switch args[1] {
	case "install", "uninstall", "remove", "start", "stop", "restart", "status":
		fmt.Printf("Service command %q is only supported on Windows\n", args[1])
		return true
	case "help", "-h", "--help", "-help":
		PrintServiceUsage()
		return true
	default:
		return false
	}
}

// PrintServiceUsage prints the help/usage information.
func PrintServiceUsage() {
	fmt.Println("PawPrints Backend")
	fmt.Println()
	fmt.Println("Usage: pawprints_backend [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Windows-only service commands: install, uninstall, start, stop, restart, status")
	fmt.Println()
	fmt.Println("Run without arguments to start the server in foreground mode.")
}
