package main

import (
	"log"
	"os/exec"
	"runtime"
)

// openBrowser best-effort launches the user's default browser at url.
// Failure is logged, never fatal — the daemon is equally usable with the
// URL copied manually.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("[MAIN] could not open browser: %v", err)
	}
}
