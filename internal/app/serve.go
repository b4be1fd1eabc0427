package app

import (
	"context"

	"github.com/1ureka/peercall/internal/store"
	"github.com/1ureka/peercall/internal/util"
)

// RunServe runs the standalone call-record store server until ctx is
// cancelled.
func RunServe(ctx context.Context, addr string) error {
	srv := store.NewServer()
	port, err := srv.Start(addr)
	if err != nil {
		return err
	}
	defer srv.Close()

	util.LogSuccess("call-record store listening on port %d (path /store)", port)
	util.LogInfo("endpoints connect with: peercall -store ws://<host>:%d/store", port)

	<-ctx.Done()
	return nil
}
