// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// outputFlags are shared by commands that can print JSON.
func outputFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
		},
	}
}

// setupCommand handles setup operations for the database and config file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:  "config",
				Usage: "Write a config file from the built-in template",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "print",
						Usage: "Print the effective configuration instead of writing a file",
					},
				},
				Action: r.SetupConfig,
			},
		},
	}
}

// authCommand handles the Discogs session.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Discogs account connection",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Connect a Discogs account with OAuth",
				Flags: []cli.Flag{
					configFlag(),
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: callbackTimeout,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening it",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "continue",
				Usage:  "Resume a signed-out session with the stored authorization",
				Flags:  []cli.Flag{configFlag()},
				Action: r.AuthContinue,
			},
			{
				Name:   "status",
				Usage:  "Show the session state",
				Flags:  outputFlags(),
				Action: r.AuthStatus,
			},
			{
				Name:   "signout",
				Usage:  "Sign out and keep the stored authorization",
				Flags:  []cli.Flag{configFlag()},
				Action: r.AuthSignOut,
			},
			{
				Name:   "disconnect",
				Usage:  "Remove the authorization and every cached trace of the account",
				Flags:  []cli.Flag{configFlag()},
				Action: r.AuthDisconnect,
			},
		},
	}
}

// collectionCommand handles collection views.
func collectionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "collection",
		Aliases: []string{"col"},
		Usage:   "Browse the vinyl collection",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List vinyl releases",
				Flags: []cli.Flag{
					configFlag(),
					&cli.IntFlag{
						Name:  "page",
						Usage: "Page to show",
						Value: 1,
					},
					&cli.StringFlag{
						Name:  "sort",
						Usage: "Sort key (artist, title, added, genre, releaseYear, label, format, random)",
						Value: "added",
					},
					&cli.StringFlag{
						Name:  "order",
						Usage: "Sort order (asc, desc)",
						Value: "desc",
					},
					&cli.StringFlag{
						Name:    "search",
						Aliases: []string{"q"},
						Usage:   "Search artists, titles, labels, genres, and styles",
					},
					&cli.StringSliceFlag{
						Name:  "genre",
						Usage: "Filter by genre (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "style",
						Usage: "Filter by style (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "label",
						Usage: "Filter by label (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "type",
						Usage: "Filter by format descriptor, e.g. LP (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "size",
						Usage: "Filter by disc size, e.g. 12\" (repeatable)",
					},
					&cli.IntFlag{
						Name:  "year-min",
						Usage: "Earliest release year",
					},
					&cli.IntFlag{
						Name:  "year-max",
						Usage: "Latest release year",
					},
					&cli.UintFlag{
						Name:  "seed",
						Usage: "Seed for the random sort",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format (table, csv, markdown, json)",
						Value:   "table",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write to a file instead of stdout",
					},
					&cli.BoolFlag{
						Name:  "fresh",
						Usage: "Ignore the cached copy and fetch from Discogs",
					},
				},
				Action: r.CollectionList,
			},
			{
				Name:   "count",
				Usage:  "Show the collection size and pending changes",
				Flags:  outputFlags(),
				Action: r.CollectionCount,
			},
			{
				Name:  "refresh",
				Usage: "Reload cached collection data",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "hard",
						Usage: "Drop every cached variant and fetch again",
					},
				},
				Action: r.CollectionRefresh,
			},
		},
	}
}

// syncCommand handles change detection.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Collection change detection",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Check for collection changes",
				Flags: append(outputFlags(), &cli.BoolFlag{
					Name:  "offline",
					Usage: "Report stored state without polling Discogs",
				}),
				Action: r.SyncStatus,
			},
			{
				Name:  "watch",
				Usage: "Watch for collection changes in an interactive view",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "log-file",
						Usage: "Log destination while the view owns the terminal",
						Value: defaultLogFile,
					},
				},
				Action: r.SyncWatch,
			},
		},
	}
}

// prefsCommand handles user preferences.
func prefsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "prefs",
		Aliases: []string{"preferences"},
		Usage:   "User preferences",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show preferences",
				Flags:  outputFlags(),
				Action: r.PrefsShow,
			},
			{
				Name:  "set",
				Usage: "Update preferences",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "view-mode",
						Usage: "Collection view mode (grid, table)",
					},
					&cli.StringFlag{
						Name:  "avatar-source",
						Usage: "Avatar source (discogs, gravatar)",
					},
					&cli.StringFlag{
						Name:  "gravatar-email",
						Usage: "Email used for the Gravatar avatar",
					},
					&cli.BoolFlag{
						Name:  "reset-avatar",
						Usage: "Restore the default avatar settings",
					},
				},
				Action: r.PrefsSet,
			},
		},
	}
}

// serveCommand runs the relay server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the Discogs relay server",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides config)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (overrides config)",
			},
		},
		Action: r.Serve,
	}
}
