package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rl1809/seckill/internal/adapter/handler"
	"github.com/rl1809/seckill/internal/adapter/storage"
	"github.com/rl1809/seckill/internal/core/domain"
)

type options struct {
	baseURL    string
	redisAddr  string
	activityID int64
	productID  int64
	stock      int
	requests   int
	settle     time.Duration
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:   "stress_test",
		Short: "Fire concurrent purchases at a running server and check nothing is oversold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.redisAddr, "redis", "localhost:6379", "redis address holding the counters")
	cmd.Flags().Int64Var(&opts.activityID, "activity", 1, "activity id")
	cmd.Flags().Int64Var(&opts.productID, "product", 1, "product id")
	cmd.Flags().IntVar(&opts.stock, "stock", 20, "stock to load before the run")
	cmd.Flags().IntVarP(&opts.requests, "requests", "n", 50, "concurrent purchase requests, one user each")
	cmd.Flags().DurationVar(&opts.settle, "settle", 10*time.Second, "how long to wait for orders to materialize")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	counters := storage.NewRedisAdapter(rdb)
	if err := counters.LoadStock(ctx, opts.activityID, opts.productID, domain.StockLevel{Available: opts.stock}); err != nil {
		return fmt.Errorf("load stock: %w", err)
	}
	// Fresh user ids per run keep earlier quota counters out of the way.
	userBase := time.Now().UnixMilli() % 1_000_000 * 1000

	client := resty.New().
		SetBaseURL(opts.baseURL).
		SetTimeout(5*time.Second).
		SetHeader("Content-Type", "application/json")

	var successCount, soldOutCount, otherCount atomic.Int32
	var mu sync.Mutex
	var orderNos []string

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.requests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()

			var body handler.PurchaseHTTPResponse
			resp, err := client.R().
				SetContext(ctx).
				SetHeader(handler.UserIDHeader, strconv.FormatInt(userID, 10)).
				SetBody(map[string]any{
					"activity_id": opts.activityID,
					"product_id":  opts.productID,
					"quantity":    1,
				}).
				SetResult(&body).
				SetError(&body).
				Post("/api/seckill/purchase")
			if err != nil {
				log.Printf("user %d: %v", userID, err)
				otherCount.Add(1)
				return
			}

			switch resp.StatusCode() {
			case http.StatusOK:
				successCount.Add(1)
				mu.Lock()
				orderNos = append(orderNos, body.Data.OrderNo)
				mu.Unlock()
			case http.StatusGone:
				soldOutCount.Add(1)
			default:
				log.Printf("user %d: %d %s", userID, resp.StatusCode(), body.Message)
				otherCount.Add(1)
			}
		}(userBase + int64(i) + 1)
	}

	wg.Wait()
	elapsed := time.Since(start)

	materialized := waitMaterialized(ctx, client, orderNos, opts.settle)

	level, err := counters.StockLevel(ctx, opts.activityID, opts.productID)
	if err != nil {
		return fmt.Errorf("read counters: %w", err)
	}

	success := int(successCount.Load())
	expected := min(opts.stock, opts.requests)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", opts.stock)
	fmt.Printf("Total Requests:   %d\n", opts.requests)
	fmt.Printf("Admitted:         %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Other Failures:   %d\n", otherCount.Load())
	fmt.Printf("Materialized:     %d\n", materialized)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Counters:         available=%d reserved=%d sold=%d\n", level.Available, level.Reserved, level.Sold)
	fmt.Println("==========================================")

	failed := false
	if success != expected {
		fmt.Printf("FAIL: expected %d admitted, got %d\n", expected, success)
		failed = true
	}
	if level.Total() != opts.stock {
		fmt.Printf("FAIL: available+reserved+sold = %d, expected %d\n", level.Total(), opts.stock)
		failed = true
	}
	if level.Available < 0 || level.Reserved < 0 {
		fmt.Println("FAIL: negative counter")
		failed = true
	}
	if materialized != success {
		fmt.Printf("FAIL: %d of %d admitted orders materialized\n", materialized, success)
		failed = true
	}
	if failed {
		return fmt.Errorf("stress test failed")
	}
	fmt.Println("PASS: no oversell, every admitted order materialized")
	return nil
}

func waitMaterialized(ctx context.Context, client *resty.Client, orderNos []string, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	pending := append([]string(nil), orderNos...)
	done := 0

	for len(pending) > 0 && time.Now().Before(deadline) {
		var still []string
		for _, orderNo := range pending {
			var body handler.PurchaseHTTPResponse
			resp, err := client.R().
				SetContext(ctx).
				SetResult(&body).
				SetError(&body).
				Get("/api/seckill/orders/" + orderNo)
			if err == nil && resp.StatusCode() == http.StatusOK && body.Data != nil &&
				body.Data.Status == string(domain.PurchaseStatusMaterialized) {
				done++
				continue
			}
			still = append(still, orderNo)
		}
		pending = still
		if len(pending) > 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
	return done
}
