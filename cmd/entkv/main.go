// Package main provides the entkv store inspection CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/entkv/entkv"
)

var version = "0.1.0"

type config struct {
	Backend string `yaml:"backend"` // bolt or badger
	Path    string `yaml:"path"`
	Verbose bool   `yaml:"verbose"`
}

func main() {
	var configPath string
	var cfg config

	rootCmd := &cobra.Command{
		Use:   "entkv",
		Short: "Inspect an entkv key-value store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(configPath, &cfg)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "entkv.yaml", "config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("entkv v%s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "value <key>",
		Short: "Print a single-value index slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDriver(cfg, func(drv entkv.Driver) error {
				v, ok, err := drv.GetValue(args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("(not set)")
					return nil
				}
				fmt.Println(v)
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "members <key>",
		Short: "Print the members of a multi-value index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDriver(cfg, func(drv entkv.Driver) error {
				members, err := drv.GetSet(args[0])
				if err != nil {
					return err
				}
				for _, m := range members {
					fmt.Println(m)
				}
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sorted <key>",
		Short: "Print the members of a sorted index with scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDriver(cfg, func(drv entkv.Driver) error {
				members, err := drv.GetSorted(args[0])
				if err != nil {
					return err
				}
				for _, m := range members {
					fmt.Printf("%s\t%v\n", m.ID, m.Score)
				}
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "body <key>",
		Short: "Print a raw entity body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDriver(cfg, func(drv entkv.Driver) error {
				body, err := drv.GetBody(args[0])
				if err != nil {
					return err
				}
				if body == nil {
					fmt.Println("(not found)")
					return nil
				}
				os.Stdout.Write(body)
				fmt.Println()
				return nil
			})
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string, cfg *config) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.Backend = "bolt"
		cfg.Path = "entkv.db"
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, cfg)
}

func withDriver(cfg config, f func(entkv.Driver) error) error {
	log := zap.NewNop().Sugar()
	if cfg.Verbose {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		log = zl.Sugar()
	}

	var drv entkv.Driver
	var err error
	switch cfg.Backend {
	case "", "bolt":
		drv, err = entkv.OpenBoltDriver(cfg.Path, log)
	case "badger":
		drv, err = entkv.OpenBadgerDriver(cfg.Path, log)
	default:
		return fmt.Errorf("unknown backend %q (want bolt or badger)", cfg.Backend)
	}
	if err != nil {
		return err
	}
	defer drv.Close()
	return f(drv)
}
