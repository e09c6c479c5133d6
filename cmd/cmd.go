// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, accountsCommand, callCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// setupCommand handles configuration and token database initialization.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and token storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// authCommand handles authorization flows and credential inspection.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize with a streaming service",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Run the configured authorization flow for a provider",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "provider",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "scopes",
						Usage: "Scope categories or substrings to request (comma-separated)",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "status",
				Usage: "Show the credential state for a provider",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "provider",
					},
				},
				Action: r.AuthStatus,
			},
			{
				Name:  "logout",
				Usage: "Clear the credential and stored token for a provider",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "provider",
					},
				},
				Action: r.AuthLogout,
			},
			{
				Name:  "scopes",
				Usage: "Resolve scope categories and substrings for a provider",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "provider",
					},
					&cli.StringArg{
						Name: "matches",
					},
				},
				Action: r.AuthScopes,
			},
		},
	}
}

// accountsCommand manages stored tokens.
func accountsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "Manage stored account tokens",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored tokens",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "provider",
						Usage: "Only show tokens for this provider",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AccountsList,
			},
			{
				Name:  "remove",
				Usage: "Remove stored tokens matching the given filters",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "provider",
						Usage: "Provider name",
					},
					&cli.StringFlag{
						Name:  "flow",
						Usage: "Authorization flow",
					},
					&cli.StringFlag{
						Name:  "client-id",
						Usage: "Client or application ID",
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "User identifier",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Required to remove every stored token when no filter is given",
					},
				},
				Action: r.AccountsRemove,
			},
		},
	}
}

// callCommand dispatches raw API requests through the full pipeline.
func callCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "call",
		Usage: "Call a provider API endpoint",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "provider",
			},
			&cli.StringArg{
				Name: "path",
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "method",
				Aliases: []string{"X"},
				Usage:   "HTTP method",
				Value:   "GET",
			},
			&cli.StringSliceFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Query parameter as key=value (repeatable)",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "JSON body to send",
			},
			&cli.StringFlag{
				Name:  "scopes",
				Usage: "Scopes required by the endpoint (comma-separated)",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Bypass the response cache",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Call,
	}
}
