// Callstored — standalone call-record store server.
//
// Peercall endpoints connect to it over WebSocket to create, merge and
// watch shared call records. It holds records in memory; restarting it
// drops all in-flight calls.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/1ureka/peercall/internal/app"
	"github.com/1ureka/peercall/internal/util"
)

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", ":8080", "Listen address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	if err := app.RunServe(ctx, *addr); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}
