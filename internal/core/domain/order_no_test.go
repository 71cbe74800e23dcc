package domain

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderNoPattern = regexp.MustCompile(`^SK\d{13}[0-9A-F]{32}$`)

func TestNewOrderNo_Format(t *testing.T) {
	now := time.UnixMilli(1760000000123)

	orderNo := NewOrderNo(now)

	assert.Regexp(t, orderNoPattern, orderNo)
	assert.Equal(t, "SK1760000000123", orderNo[:15])
	// Fits orders.order_no VARCHAR(50).
	assert.LessOrEqual(t, len(orderNo), 50)
}

// Same-millisecond generation from many goroutines must not collide in practice.
func TestNewOrderNo_UniqueUnderConcurrency(t *testing.T) {
	now := time.Now()
	const goroutines = 8
	const perGoroutine = 5000

	var mu sync.Mutex
	seen := make(map[string]struct{}, goroutines*perGoroutine)
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				local = append(local, NewOrderNo(now))
			}
			mu.Lock()
			for _, no := range local {
				seen[no] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*perGoroutine)
}
