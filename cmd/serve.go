////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elixxir/parley/logging"
)

const (
	readTimeout     = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// serveCmd runs the moderation gate and the HTTP surface until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the moderation gate and serves the HTTP and websocket API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(
			context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		ring, err := logging.NewRingLogger(
			logging.ThresholdOf(viper.GetUint(logLevelFlag)),
			viper.GetInt(ringSizeFlag))
		if err != nil {
			return err
		}
		defer ring.Stop()

		svc, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer svc.close()

		if err = svc.openAttachments(); err != nil {
			return err
		}
		svc.startModeration()

		// Messages left pending by a previous run or an unavailable
		// classifier are moderated again.
		if _, err = svc.gate.RecoverPending(ctx); err != nil {
			jww.WARN.Printf("[MODERATION] Pending recovery stopped early: %+v",
				err)
		}

		srv := &http.Server{
			Addr:              viper.GetString(serveAddrFlag),
			Handler:           newRouter(svc, ring),
			ReadHeaderTimeout: readTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			jww.INFO.Printf("Serving on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err = <-errCh:
			return errors.Wrap(err, "server failed")
		case <-ctx.Done():
		}

		jww.INFO.Print("Shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(
			context.Background(), shutdownTimeout)
		defer cancelShutdown()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String(serveAddrFlag, ":8080",
		"Address the HTTP server listens on")
	bindFlagHelper(serveAddrFlag, serveCmd)

	serveCmd.Flags().Int(ringSizeFlag, logging.DefaultRingSize,
		"Bytes of recent log served at /debug/log")
	bindFlagHelper(ringSizeFlag, serveCmd)

	rootCmd.AddCommand(serveCmd)
}
