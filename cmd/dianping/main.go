package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	pgDSN      string
	redisAddr  string
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dianping",
		Short: "Dianping cache and flash-sale core",
		Long:  "Run the order consumer daemon and operate shop caches and seckill vouchers",
	}

	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(daemonCmd(), seckillCmd(), shopCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
