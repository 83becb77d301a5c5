// Command terminalcore serves PTY-backed terminals over WebSocket under
// three sharing policies: /unique, /single, and /named/<key>. It exists to
// exercise internal/manager and internal/wsclient end to end; routing,
// auth, and TLS termination are an external collaborator's job (out of
// scope, same as the teacher's CLI/browser-launching boundary).
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/iwanhae/terminalcore/internal/manager"
	"github.com/iwanhae/terminalcore/internal/reaper"
	"github.com/iwanhae/terminalcore/internal/wsclient"
)

func main() {
	addr := flag.String("addr", ":8765", "http service address")
	shell := flag.String("shell", defaultShell(), "shell command to spawn for each terminal")
	maxUnique := flag.Int("max-unique", 0, "cap on concurrently open unique terminals (0 = unbounded)")
	maxNamed := flag.Int("max-named", 0, "cap on concurrently open named terminals (0 = unbounded)")
	idleTimeout := flag.Duration("idle-timeout", 0, "kill a terminal once it has had no attached clients for this long (0 disables the reaper)")
	cwd := flag.String("cwd", "", "working directory for spawned terminals (default: user's home)")
	flag.Parse()

	opts := manager.Options{ShellCommand: []string{*shell}, Cwd: *cwd}

	uniqueMgr := manager.NewUniqueManager(opts, *maxUnique)
	singleMgr := manager.NewSingleManager(opts)
	namedMgr := manager.NewNamedManager(opts, *maxNamed, "")

	if *idleTimeout > 0 {
		startReaper(uniqueMgr, *idleTimeout)
		startReaper(namedMgr, *idleTimeout)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/unique", func(w http.ResponseWriter, r *http.Request) {
		_ = wsclient.Serve(w, r, uniqueMgr, "")
	})
	mux.HandleFunc("/single", func(w http.ResponseWriter, r *http.Request) {
		_ = wsclient.Serve(w, r, singleMgr, "")
	})
	mux.HandleFunc("/named/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/named/")
		_ = wsclient.Serve(w, r, namedMgr, name)
	})

	log.Printf("terminalcore listening on %s (shell=%q)", *addr, *shell)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal("terminalcore: ", err)
	}
}

func startReaper(lister reaper.Lister, idleTimeout time.Duration) {
	r, err := reaper.New(lister, idleTimeout, "")
	if err != nil {
		log.Fatalf("terminalcore: failed to start idle reaper: %v", err)
	}
	r.Start()
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
