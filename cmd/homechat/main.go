package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"homechat/internal/app"
	"homechat/internal/config"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.homechat/config.toml)")
	initFlag := flag.Bool("init", false, "write a default config file and exit")
	flag.Parse()

	path := *configFlag
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	if *initFlag {
		if err := config.Save(path, config.Default()); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s - fill in base_url, token and user_id\n", path)
		return
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (run with -init to create a config)\n", err)
		os.Exit(1)
	}
	if cfg.BaseURL == "" || cfg.Token == "" || cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "error: base_url, token and user_id must be set in the config")
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{Config: cfg}),
	).Run()
}
