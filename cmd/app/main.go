package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/cardsync/internal"
	"github.com/starford/cardsync/internal/mcpserver"
	"github.com/starford/cardsync/internal/storage"
	"github.com/starford/cardsync/internal/vcard"
	pkgconfig "github.com/starford/cardsync/pkg/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func encode(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("encode: record file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := storage.Decode(data)
	if err != nil {
		return fmt.Errorf("encode: %s: %w", path, err)
	}
	if c.ID == "" {
		c.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	enc, err := vcard.NewEncoder(
		vcard.WithLineLength(int(cmd.Int("fold"))),
		vcard.WithProdID(cmd.Bool("prodid")),
	)
	if err != nil {
		return err
	}
	text, err := enc.Encode(c)
	if err != nil {
		return fmt.Errorf("encode: %s: %w", path, err)
	}
	_, err = fmt.Fprint(os.Stdout, text)
	return err
}

func restore(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("restore: contact id is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := internal.Open(internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.Service.Restore(ctx, id, true); err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	text, err := app.Service.EncodeContact(ctx, id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(os.Stdout, text)
	return err
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	app, err := internal.Open(internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Sync(false); err != nil {
		app.Logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = app.Pipeline.Run(ctx) }()

	return mcpserver.New(app.Service, version).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "cardsync",
		Usage:   "Back up contact records to a CardDAV provider as vCard 4.0",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "encode",
				Usage:     "Print the vCard for a contact record file",
				ArgsUsage: "<file>",
				Action:    encode,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "fold",
						Usage: "Maximum content line length in octets",
						Value: vcard.DefaultLineLength,
					},
					&cli.BoolFlag{
						Name:  "prodid",
						Usage: "Emit a PRODID property",
					},
				},
			},
			{
				Name:      "restore",
				Usage:     "Fetch a contact from the provider and overwrite the local record",
				ArgsUsage: "<id>",
				Action:    restore,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the contact tools over MCP on stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
