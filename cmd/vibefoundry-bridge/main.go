// Command vibefoundry-bridge is the local bridge daemon: it fronts a
// browser-hosted IDE and couples it to a remote development sandbox,
// exposing one local HTTP endpoint for file, sync, script, and terminal
// operations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibefoundry/vibefoundry-bridge/internal/api"
	"github.com/vibefoundry/vibefoundry-bridge/internal/metadata"
	"github.com/vibefoundry/vibefoundry-bridge/internal/policy"
	"github.com/vibefoundry/vibefoundry-bridge/internal/project"
	"github.com/vibefoundry/vibefoundry-bridge/internal/scripts"
	"github.com/vibefoundry/vibefoundry-bridge/internal/sync"
	"github.com/vibefoundry/vibefoundry-bridge/internal/syncclient"
	"github.com/vibefoundry/vibefoundry-bridge/internal/term"
	"github.com/vibefoundry/vibefoundry-bridge/internal/tree"
	"github.com/vibefoundry/vibefoundry-bridge/internal/watch"
)

const (
	exitOK             = 0
	exitBindFailure    = 1
	exitInvalidProject = 2
)

func main() {
	port := flag.Int("port", 8765, "local HTTP port")
	noBrowser := flag.Bool("no-browser", false, "don't open a browser tab on startup")
	remoteURL := flag.String("remote-url", os.Getenv("VIBEFOUNDRY_REMOTE_URL"), "base URL of the remote sandbox (scheme+host, e.g. https://sandbox.example.com:8787)")
	flag.Parse()

	projectPath := flag.Arg(0)
	if projectPath == "" {
		projectPath = os.Getenv("VIBEFOUNDRY_PROJECT_PATH")
	}
	if projectPath == "" {
		log.Printf("[MAIN] no project path given; waiting for POST /api/folder/select")
	}

	p := policy.New()
	bus := watch.New(p)
	defer bus.Close()

	projects := project.New(bus)
	terminals := term.NewManager()
	projects.OnReselect(func() { terminals.CloseAll() })

	if projectPath != "" {
		info, err := projects.Select(projectPath)
		if err != nil {
			log.Printf("[MAIN] invalid project path %q: %v", projectPath, err)
			os.Exit(exitInvalidProject)
		}
		log.Printf("[MAIN] project %s ready at %s", info.Name, info.Path)
	}

	client := syncclient.New(p)
	vector := sync.NewVector()

	remoteURLFn := func() (string, bool) {
		return *remoteURL, *remoteURL != ""
	}

	if *remoteURL != "" {
		go sync.KeepaliveTicker(context.Background(), client, remoteURLFn, 60*time.Second)
	}

	go runMetadataOnDataChange(bus, projects)

	server := &api.Server{
		Policy:     p,
		Tree:       tree.New(p),
		Bus:        bus,
		SyncClient: client,
		Sync:       sync.New(client, p),
		Vector:     vector,
		Runner:     scripts.New(func() string { info, _ := projects.Current(); return info.Path }),
		Terminals:  terminals,
		Projects:   projects,
		RemoteURL:  remoteURLFn,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("[MAIN] failed to bind %s: %v", addr, err)
		os.Exit(exitBindFailure)
	}

	httpServer := &http.Server{Handler: server.Router()}

	go func() {
		log.Printf("[MAIN] listening on http://%s", addr)
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Printf("[MAIN] server error: %v", serveErr)
		}
	}()

	if !*noBrowser {
		openBrowser(fmt.Sprintf("http://%s", addr))
	}

	waitForShutdown()

	log.Printf("[MAIN] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	terminals.CloseAll()

	os.Exit(exitOK)
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

// runMetadataOnDataChange regenerates app/meta_data/*.txt a short, fixed
// delay after the most recent data_change or output_change event, so a
// burst of input or output writes produces one regeneration instead of
// one per file.
func runMetadataOnDataChange(bus *watch.Bus, projects *project.Manager) {
	const debounce = 2 * time.Second

	changes, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	var timer *time.Timer
	for change := range changes {
		if change.Kind != watch.KindData && change.Kind != watch.KindOutput {
			continue
		}
		info, ok := projects.Current()
		if !ok {
			continue
		}
		root := info.Path
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if genErr := metadata.GenerateAll(root); genErr != nil {
				log.Printf("[MAIN] metadata generation failed: %v", genErr)
			}
		})
	}
}
