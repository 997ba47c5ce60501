package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Eklps/Dianping/internal/domain"
	"github.com/Eklps/Dianping/internal/seckill"
)

func seckillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seckill",
		Short: "Manage flash-sale vouchers and orders",
	}
	cmd.AddCommand(addVoucherCmd(), submitCmd(), orderCmd(), benchCmd())
	return cmd
}

func addVoucherCmd() *cobra.Command {
	var (
		voucherID int64
		stock     int
		begin     string
		duration  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add-voucher",
		Short: "Register a seckill voucher and seed its stock counter",
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

			beginTime := time.Now()
			if begin != "" {
				beginTime, err = time.Parse(time.RFC3339, begin)
				if err != nil {
					return fmt.Errorf("invalid --begin: %w", err)
				}
			}
			v := &domain.SeckillVoucher{
				VoucherID: voucherID,
				Stock:     stock,
				BeginTime: beginTime,
				EndTime:   beginTime.Add(duration),
			}
			if err := a.vouchers.AddSeckillVoucher(ctx, v); err != nil {
				return err
			}
			fmt.Printf("Voucher %d registered: stock=%d window=%s..%s\n",
				v.VoucherID, v.Stock, v.BeginTime.Format(time.RFC3339), v.EndTime.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().Int64Var(&voucherID, "id", 0, "Voucher ID")
	cmd.Flags().IntVar(&stock, "stock", 0, "Available stock")
	cmd.Flags().StringVar(&begin, "begin", "", "Sale start (RFC3339, default now)")
	cmd.Flags().DurationVar(&duration, "duration", 24*time.Hour, "Sale length")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("stock")
	return cmd
}

func submitCmd() *cobra.Command {
	var voucherID, userID int64

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one seckill order",
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

			orderID, err := a.seckill.Seckill(ctx, voucherID, userID)
			if err != nil {
				return err
			}
			fmt.Printf("Order admitted: %d\n", orderID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&voucherID, "voucher", 0, "Voucher ID")
	cmd.Flags().Int64Var(&userID, "user", 0, "User ID")
	cmd.MarkFlagRequired("voucher")
	cmd.MarkFlagRequired("user")
	return cmd
}

func orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order <id>",
		Short: "Look up a persisted order by the ID submit returned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q: %w", args[0], err)
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

			order, err := a.pg.GetVoucherOrder(ctx, orderID)
			if err != nil {
				return err
			}
			fmt.Println(describeOrder(orderID, order))
			return nil
		},
	}
}

// describeOrder renders a lookup result. Admitted orders are persisted
// asynchronously, so a missing row may still be queued.
func describeOrder(orderID int64, o *domain.VoucherOrder) string {
	if o == nil {
		return fmt.Sprintf("Order %d not persisted (unknown, or still queued for the consumer)", orderID)
	}
	return fmt.Sprintf("Order %d: user=%d voucher=%d status=%s created=%s",
		o.ID, o.UserID, o.VoucherID, o.Status, o.CreatedAt.Format(time.RFC3339))
}

// benchResult tallies admission outcomes.
type benchResult struct {
	mu       sync.Mutex
	admitted int
	outcomes map[string]int
}

func (r *benchResult) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err == nil:
		r.admitted++
	case errors.Is(err, seckill.ErrOutOfStock):
		r.outcomes["out of stock"]++
	case errors.Is(err, seckill.ErrAlreadyOrdered):
		r.outcomes["already ordered"]++
	default:
		r.outcomes[err.Error()]++
	}
}

// backlog is the order pipeline state after a bench run.
type backlog struct {
	length    int64
	pending   int64
	persisted int64
}

func readBacklog(ctx context.Context, a *app, voucherID int64) (backlog, error) {
	var b backlog
	var err error
	if b.length, err = a.stream.Len(ctx); err != nil {
		return b, err
	}
	// No consumer has created the group yet: nothing is pending.
	if b.pending, err = a.stream.Pending(ctx); err != nil && !strings.Contains(err.Error(), "NOGROUP") {
		return b, err
	}
	if b.persisted, err = a.pg.CountVoucherOrders(ctx, voucherID); err != nil {
		return b, err
	}
	return b, nil
}

func benchCmd() *cobra.Command {
	var (
		voucherID   int64
		users       int
		firstUser   int64
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fire concurrent seckill submissions from distinct users",
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

			res := &benchResult{outcomes: make(map[string]int)}
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)

			start := time.Now()
			for i := 0; i < users; i++ {
				userID := firstUser + int64(i)
				g.Go(func() error {
					_, err := a.seckill.Seckill(gctx, voucherID, userID)
					res.record(err)
					return nil
				})
			}
			g.Wait()
			elapsed := time.Since(start)

			fmt.Printf("%d requests in %s (%.0f req/s)\n", users, elapsed.Round(time.Millisecond), float64(users)/elapsed.Seconds())
			fmt.Printf("  admitted: %d\n", res.admitted)
			for outcome, n := range res.outcomes {
				fmt.Printf("  %s: %d\n", outcome, n)
			}

			backlog, err := readBacklog(ctx, a, voucherID)
			if err != nil {
				return err
			}
			fmt.Printf("stream %s: length=%d pending=%d persisted=%d\n",
				a.stream.Key(), backlog.length, backlog.pending, backlog.persisted)
			return nil
		},
	}

	cmd.Flags().Int64Var(&voucherID, "voucher", 0, "Voucher ID")
	cmd.Flags().IntVar(&users, "users", 1000, "Number of distinct users")
	cmd.Flags().Int64Var(&firstUser, "first-user", 1, "First user ID")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 100, "Concurrent requests")
	cmd.MarkFlagRequired("voucher")
	return cmd
}
