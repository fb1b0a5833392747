package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/mlbern/nutmeg/mint"
)

func main() {
	app := &cli.App{
		Name:  "mintd",
		Usage: "ecash mint daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to .env file",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "port to listen on (overrides NUTMEG_PORT)",
			},
		},
		Action: runMint,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runMint(ctx *cli.Context) error {
	if err := godotenv.Load(ctx.String("env")); err != nil && !os.IsNotExist(err) {
		return err
	}

	config, err := mint.GetConfig()
	if err != nil {
		return err
	}
	if port := ctx.String("port"); port != "" {
		config.Port = port
	}

	server, err := mint.SetupMintServer(config)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-sigCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}
