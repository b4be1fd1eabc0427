// Peercall — CLI entry point.
//
// This tool establishes a 2-party audio/video call by exchanging SDP and
// ICE candidates through a shared call-record store (reachable over
// WebSocket). Media flows peer-to-peer once the call connects.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -user, -name, -peer, -call, -store, -addr).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/1ureka/peercall/internal/app"
	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: call, answer or serve")
	user := flag.String("user", "", "Your user ID (random if omitted)")
	name := flag.String("name", "", "Your display name (optional)")
	peer := flag.String("peer", "", "Callee user ID (call role only)")
	callID := flag.String("call", "", "Call ID to answer (answer role only)")
	storeURL := flag.String("store", "", "WebSocket URL of the call-record store")
	addr := flag.String("addr", ":0", "Listen address for the record store (serve role only)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peercall — v%s", version))
	pterm.Println()

	cfg := config.Config{
		Role:     config.Role(*role),
		UserID:   *user,
		UserName: *name,
		PeerID:   *peer,
		CallID:   *callID,
		StoreURL: *storeURL,
		Addr:     *addr,
	}
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}

	switch cfg.Role {
	case "":
		// No -role flag → interactive mode.
		runInteractive(ctx, cfg)

	case config.RoleCall:
		if cfg.PeerID == "" {
			util.LogError("missing -peer for call role")
			os.Exit(1)
		}
		mustStoreURL(&cfg)
		run(app.RunCall(ctx, cfg))

	case config.RoleAnswer:
		if cfg.CallID == "" {
			util.LogError("missing -call for answer role")
			os.Exit(1)
		}
		mustStoreURL(&cfg)
		run(app.RunAnswer(ctx, cfg))

	case config.RoleServe:
		run(app.RunServe(ctx, cfg.Addr))

	default:
		util.LogError("invalid -role: must be 'call', 'answer' or 'serve'")
		os.Exit(1)
	}
}

func run(err error) {
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("goodbye")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive falls back to interactive prompts when no -role flag is
// provided.
func runInteractive(ctx context.Context, cfg config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Call   — Place a call to a peer",
			"Answer — Join an existing call",
			"Serve  — Run the call-record store",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Call"):
		cfg.StoreURL = askStoreURL()
		cfg.PeerID = askNonEmpty("Callee user ID")
		run(app.RunCall(ctx, cfg))

	case strings.HasPrefix(role, "Answer"):
		cfg.StoreURL = askStoreURL()
		cfg.CallID = askNonEmpty("Call ID to answer")
		run(app.RunAnswer(ctx, cfg))

	default:
		run(app.RunServe(ctx, cfg.Addr))
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// mustStoreURL normalizes cfg.StoreURL, exiting on a missing or bad value.
func mustStoreURL(cfg *config.Config) {
	if cfg.StoreURL == "" {
		util.LogError("missing -store URL")
		os.Exit(1)
	}
	normalized, err := normalizeStoreURL(cfg.StoreURL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	cfg.StoreURL = normalized
}

// normalizeStoreURL validates and normalizes a raw record-store URL string.
func normalizeStoreURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid store URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/store", scheme, u.Host), nil
}

// askStoreURL prompts the user for a valid record-store URL until one is
// entered.
func askStoreURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Record store URL (e.g. ws://localhost:8080/store)").
			Show()

		storeURL, err := normalizeStoreURL(raw)
		if err == nil {
			pterm.Println()
			return storeURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askNonEmpty prompts until a non-empty value is entered.
func askNonEmpty(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("value must not be empty")
		pterm.Println()
	}
}
