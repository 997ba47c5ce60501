package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Eklps/Dianping/internal/domain"
)

func shopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shop",
		Short: "Read and warm shop cache entries",
	}
	cmd.AddCommand(shopGetCmd(), shopWarmCmd())
	return cmd
}

func shopGetCmd() *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Read a shop through the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid shop id: %s", args[0])
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			var shop *domain.Shop
			switch strategy {
			case "logical":
				shop, err = a.shops.QueryByID(ctx, id)
			case "mutex":
				shop, err = a.shops.QueryByIDWithMutex(ctx, id)
			case "pass-through":
				shop, err = a.shops.QueryByIDWithPassThrough(ctx, id)
			default:
				return fmt.Errorf("unknown strategy: %s", strategy)
			}
			if err != nil {
				return err
			}
			if shop == nil {
				return fmt.Errorf("shop %d not found", id)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(shop)
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "logical", "Cache strategy: logical, mutex, pass-through")
	return cmd
}

func shopWarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm <id>...",
		Short: "Load shops from Postgres into logical-expiry cache entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid shop id: %s", arg)
				}
				if err := a.shops.WarmUp(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Shop %d warmed\n", id)
			}
			return nil
		},
	}
	return cmd
}
