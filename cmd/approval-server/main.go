package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/procurehub/purchase-approval-backend/cmd/flags"
	"github.com/procurehub/purchase-approval-backend/httpserver"
	"github.com/procurehub/purchase-approval-backend/interfaces"
	"github.com/procurehub/purchase-approval-backend/mailer"
	"github.com/procurehub/purchase-approval-backend/storage"
	"github.com/procurehub/purchase-approval-backend/workflow"
)

var ApprovalServiceLogFlag = flags.LogServiceFlagFn("purchase-approval")

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

func main() {
	app := &cli.App{
		Name:  "approval-server",
		Usage: "Serve the purchase approval API",
		Flags: append([]cli.Flag{
			ListenAddrFlag,
			flags.StoreURIFlag,
			flags.FrontendURLFlag,
			flags.OTPValidityFlag,
			flags.DebugAPIFlag,
			ApprovalServiceLogFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(ListenAddrFlag.Name)
			storeURI := cCtx.String(flags.StoreURIFlag.Name)
			frontendURL := cCtx.String(flags.FrontendURLFlag.Name)
			otpValidity := cCtx.Duration(flags.OTPValidityFlag.Name)

			logger := flags.SetupLogger(cCtx)

			location, err := interfaces.NewStoreLocation(storeURI)
			if err != nil {
				logger.Error("Invalid store URI", "err", err, "uri", storeURI)
				return err
			}

			store, err := storage.NewFactory(logger).StoreFor(location)
			if err != nil {
				logger.Error("Failed to create request store", "err", err, "uri", storeURI)
				return err
			}
			logger.Info("Request store ready", "store", store.Name())

			mockMailer := mailer.NewMockMailer(frontendURL, logger)

			service := workflow.NewService(&workflow.Config{
				Store:       store,
				Mailer:      mockMailer,
				Log:         logger,
				OTPValidity: otpValidity,
			})

			handler := httpserver.NewHandler(service, store, mockMailer, frontendURL, logger)

			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
