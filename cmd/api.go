package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pawmatch/internal/api"
	"github.com/pawmatch/internal/config"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the PawMatch API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
			},
		},
		Action: func(c *cli.Context) error {
			// A missing .env is fine, configuration may come from the
			// environment or the TOML file
			_ = api.LoadDotEnv(".env")

			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if c.IsSet("port") {
				cfg.Server.Port = c.Int("port")
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			db, err := api.OpenDatabase(cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			fmt.Printf("Starting PawMatch API server on port %d...\n", cfg.Server.Port)

			server := api.NewServer(cfg, db)
			return server.Start()
		},
	}
}
