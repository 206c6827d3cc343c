// Benchmark tool that replays a labeled listing dataset against listingrisk.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/listings.csv -url http://localhost:8080
//
// This tool:
//  1. Reads labeled listings (CSV with an is_fraud column)
//  2. Sends each listing to the service, either through the full assessment
//     pipeline or through the offline classifier (-mode predict)
//  3. Compares the verdict with the label
//  4. Prints precision, recall, F1-score and the confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ListingRequest mirrors the POST /listings body.
type ListingRequest struct {
	ID              string   `json:"id"`
	OwnerID         string   `json:"ownerId"`
	OwnerTrustScore *float64 `json:"ownerTrustScore,omitempty"`
	Price           float64  `json:"price"`
	Bedrooms        float64  `json:"bedrooms"`
	Bathrooms       float64  `json:"bathrooms"`
	FloorArea       float64  `json:"floorArea"`
	Location        string   `json:"location"`
	Amenities       []string `json:"amenities,omitempty"`
	YearBuilt       int      `json:"yearBuilt,omitempty"`
}

// Verdict is the part of a response the benchmark scores.
type Verdict struct {
	IsFraud bool
	Score   float64
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled listing CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "listingrisk base URL")
	mode := flag.String("mode", "assess", "assess (full pipeline) or predict (stored classifier)")
	limit := flag.Int("limit", 10000, "Maximum listings to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraudulent listings")
	verbose := flag.Bool("verbose", false, "Print each listing result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/listings.csv [-url http://localhost:8080] [-mode assess|predict]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *mode != "assess" && *mode != "predict" {
		fmt.Printf("ERROR: unknown mode %q\n", *mode)
		os.Exit(1)
	}

	fmt.Println("LISTINGRISK BENCHMARK - labeled listing replay")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Service URL: %s\n", *baseURL)
	fmt.Printf("Mode:        %s\n", *mode)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: listingrisk not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("service is healthy")

	listings, err := readListingCSV(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(listings) == 0 {
		fmt.Println("ERROR: no listings in dataset")
		os.Exit(1)
	}
	fmt.Printf("loaded %d listings\n", len(listings))

	fraudCount := 0
	for _, l := range listings {
		if l.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(listings)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(listings)-fraudCount, 100*float64(len(listings)-fraudCount)/float64(len(listings)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(listings, *baseURL, *mode, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runBenchmark(listings []LabeledListing, baseURL, mode string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledListing, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for l := range work {
				start := time.Now()
				verdict, err := evaluateListing(client, baseURL, mode, l)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", l.ID, err)
					}
					continue
				}

				metrics.record(verdict.IsFraud, l.IsFraud)

				if verbose {
					status := "ok "
					if verdict.IsFraud != l.IsFraud {
						status = "ERR"
					}
					fmt.Printf("%s %-12s | %-14s | Price: %14.2f | Fraud: %-5v | Verdict: %-5v (%.2f)\n",
						status, l.ID, l.Location, l.Price, l.IsFraud, verdict.IsFraud, verdict.Score)
				}
			}
		}()
	}

	for _, l := range listings {
		work <- l
	}
	close(work)

	wg.Wait()
	return metrics
}

func (m *Metrics) record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalNonFraud, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func evaluateListing(client *http.Client, baseURL, mode string, l LabeledListing) (*Verdict, error) {
	listing := ListingRequest{
		ID:              l.ID,
		OwnerID:         l.OwnerID,
		OwnerTrustScore: l.OwnerTrust,
		Price:           l.Price,
		Bedrooms:        l.Bedrooms,
		Bathrooms:       l.Bathrooms,
		FloorArea:       l.FloorArea,
		Location:        l.Location,
		Amenities:       l.Amenities,
		YearBuilt:       l.YearBuilt,
	}

	if mode == "predict" {
		var resp struct {
			Prediction struct {
				Probability float64 `json:"probability"`
				Prediction  bool    `json:"prediction"`
			} `json:"prediction"`
		}
		if err := postJSON(client, baseURL+"/predict", map[string]any{"listing": listing}, http.StatusOK, &resp); err != nil {
			return nil, err
		}
		return &Verdict{IsFraud: resp.Prediction.Prediction, Score: resp.Prediction.Probability}, nil
	}

	var resp struct {
		Assessment *struct {
			RiskScore float64 `json:"riskScore"`
			IsFraud   bool    `json:"isFraud"`
		} `json:"assessment"`
	}
	if err := postJSON(client, baseURL+"/listings?assess=true", listing, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	if resp.Assessment == nil {
		return nil, fmt.Errorf("response carried no assessment")
	}
	return &Verdict{IsFraud: resp.Assessment.IsFraud, Score: resp.Assessment.RiskScore}, nil
}

func postJSON(client *http.Client, url string, body any, wantStatus int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// rates returns precision, recall, F1 and accuracy. Empty denominators give 0.
func (m *Metrics) rates() (precision, recall, f1, accuracy float64) {
	tp, fp := float64(m.TruePositives), float64(m.FalsePositives)
	tn, fn := float64(m.TrueNegatives), float64(m.FalseNegatives)

	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	if total := tp + tn + fp + fn; total > 0 {
		accuracy = (tp + tn) / total
	}
	return precision, recall, f1, accuracy
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD      CLEAN")
	fmt.Printf("   Actual  F    %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF    %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision, recall, f1, accuracy := m.rates()

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged listings, how many were fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	if m.TotalFraud > 0 {
		fmt.Printf("\n   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud,
			float64(m.TruePositives)/float64(m.TotalFraud)*100)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud,
			float64(m.FalseNegatives)/float64(m.TotalFraud)*100)
	}
	if m.TotalNonFraud > 0 {
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud,
			float64(m.FalsePositives)/float64(m.TotalNonFraud)*100)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		lps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f listings/sec\n", lps)
	}
	fmt.Println()
}
