package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	replayRate  float64
)

var (
	totalRequests uint64
	premium202    uint64
	free202       uint64
	replay200     uint64
	busy429       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 1000, "Number of seeded accounts")
	flag.Float64Var(&replayRate, "replay", 0.1, "Fraction of requests that reuse an idempotency key")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(i, &wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(n int, wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	var lastKey, lastIdentity string
	for seq := 0; time.Since(start) < duration; seq++ {
		identity := pickAccount()
		key := fmt.Sprintf("bench-%d-%d-%d", n, seq, time.Now().UnixNano())
		if lastKey != "" && rand.Float64() < replayRate {
			identity, key = lastIdentity, lastKey
		}
		lastKey, lastIdentity = key, identity

		payload := map[string]interface{}{
			"account_identity": identity,
			"idea": map[string]string{
				"title":       "Benchmark idea " + key,
				"description": "Synthetic load for the reservation path",
			},
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/reports", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusAccepted:
			var out struct {
				ReportType string `json:"report_type"`
			}
			json.NewDecoder(resp.Body).Decode(&out)
			if out.ReportType == "premium" {
				atomic.AddUint64(&premium202, 1)
			} else {
				atomic.AddUint64(&free202, 1)
			}
		case http.StatusOK:
			atomic.AddUint64(&replay200, 1)
		case http.StatusTooManyRequests:
			atomic.AddUint64(&busy429, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// pickAccount matches the identities written by the seeder.
func pickAccount() string {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return identity(0)
	}
	return identity(rand.Intn(accounts))
}

func identity(i int) string {
	return fmt.Sprintf("bench-%04d@example.com", i)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	prem := atomic.LoadUint64(&premium202)
	free := atomic.LoadUint64(&free202)
	replays := atomic.LoadUint64(&replay200)
	busy := atomic.LoadUint64(&busy429)
	fErr := atomic.LoadUint64(&failOther)

	var busyRate float64
	if total > 0 {
		busyRate = float64(busy) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_rps":   float64(total) / d.Seconds(),
		"premium_accepted": prem,
		"free_accepted":    free,
		"replays":          replays,
		"queue_full":       busy,
		"queue_full_pct":   busyRate,
		"errors":           fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
