// Benchmark tool for testing Kestrel against labeled loan data.
//
// Usage:
//	go run cmd/benchmark/main.go -csv /path/to/loans.csv -url http://localhost:8080
//	go run cmd/benchmark/main.go -synthetic 10000 -url http://localhost:8080
//
// This tool:
//  1. Reads loan application data (with default labels) or synthesizes profiles
//  2. Sends each profile to Kestrel for evaluation
//  3. Compares Kestrel's decision (REJECT vs APPROVE/REVIEW) with actual default labels
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LoanApplication represents one labeled row from the dataset.
type LoanApplication struct {
	MonthlyIncome       float64
	MonthlyExpenses     float64
	TotalMonthlyEMIs    float64
	PastLoanDefaults    int
	CreditHistoryMonths int
	EmploymentType      string
	Age                 int
	RequestedLoanAmount float64
	Defaulted           bool
}

// EvaluateRequest is the Kestrel API request format. Decimal fields go
// out as JSON numbers.
type EvaluateRequest struct {
	MonthlyIncome             float64 `json:"monthlyIncome"`
	MonthlyExpenses           float64 `json:"monthlyExpenses"`
	TotalMonthlyEMIs          float64 `json:"totalMonthlyEmis"`
	PastLoanDefaults          int     `json:"pastLoanDefaults"`
	CreditHistoryLengthMonths int     `json:"creditHistoryLengthMonths"`
	EmploymentType            string  `json:"employmentType"`
	Age                       int     `json:"age"`
	RequestedLoanAmount       float64 `json:"requestedLoanAmount"`
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	CreditScore int      `json:"creditScore"`
	RiskTier    string   `json:"riskTier"`
	Decision    string   `json:"decision"`
	Reasons     []string `json:"reasons"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Defaulted applicant rejected
	FalsePositives int64 // Good applicant rejected
	TrueNegatives  int64 // Good applicant approved or sent to review
	FalseNegatives int64 // Defaulted applicant approved or sent to review

	Approved int64
	Reviewed int64
	Rejected int64

	TotalProcessed int64
	TotalDefaults  int64
	TotalGood      int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled loan CSV file")
	synthetic := flag.Int("synthetic", 0, "Generate N synthetic profiles instead of reading a CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum applications to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "Seed for synthetic profile generation")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	if *csvPath == "" && *synthetic == 0 {
		fmt.Println("Usage: benchmark -csv /path/to/loans.csv [-url http://localhost:8080]")
		fmt.Println("       benchmark -synthetic 10000 [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Credit Decision Quality          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	if *csvPath != "" {
		fmt.Printf("\nCSV File:    %s\n", *csvPath)
	} else {
		fmt.Printf("\nSynthetic:   %d profiles (seed %d)\n", *synthetic, *seed)
	}
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Load applications
	var applications []LoanApplication
	var err error
	if *csvPath != "" {
		fmt.Printf("\nReading loan data from %s...\n", *csvPath)
		applications, err = readLoanCSV(*csvPath, *limit)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		applications = synthesizeApplications(*synthetic, *seed)
	}
	fmt.Printf("✓ Loaded %d applications\n", len(applications))

	defaultCount := 0
	for _, app := range applications {
		if app.Defaulted {
			defaultCount++
		}
	}
	fmt.Printf("  - Defaulted: %d (%.2f%%)\n", defaultCount, 100*float64(defaultCount)/float64(len(applications)))
	fmt.Printf("  - Good:      %d (%.2f%%)\n", len(applications)-defaultCount, 100*float64(len(applications)-defaultCount)/float64(len(applications)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(applications, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

// readLoanCSV expects columns: monthly_income, monthly_expenses,
// total_monthly_emis, past_loan_defaults, credit_history_months,
// employment_type, age, requested_loan_amount, defaulted.
func readLoanCSV(path string, limit int) ([]LoanApplication, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var applications []LoanApplication

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		income, _ := strconv.ParseFloat(record[colIndex["monthly_income"]], 64)
		expenses, _ := strconv.ParseFloat(record[colIndex["monthly_expenses"]], 64)
		emis, _ := strconv.ParseFloat(record[colIndex["total_monthly_emis"]], 64)
		defaults, _ := strconv.Atoi(record[colIndex["past_loan_defaults"]])
		history, _ := strconv.Atoi(record[colIndex["credit_history_months"]])
		age, _ := strconv.Atoi(record[colIndex["age"]])
		loan, _ := strconv.ParseFloat(record[colIndex["requested_loan_amount"]], 64)

		applications = append(applications, LoanApplication{
			MonthlyIncome:       income,
			MonthlyExpenses:     expenses,
			TotalMonthlyEMIs:    emis,
			PastLoanDefaults:    defaults,
			CreditHistoryMonths: history,
			EmploymentType:      strings.ToUpper(record[colIndex["employment_type"]]),
			Age:                 age,
			RequestedLoanAmount: loan,
			Defaulted:           record[colIndex["defaulted"]] == "1",
		})

		if limit > 0 && len(applications) >= limit {
			break
		}
	}

	return applications, nil
}

// synthesizeApplications generates profiles spanning the scoring bands.
// A profile is labeled as defaulted when it carries the classic stress
// markers: prior defaults, thin history and negative disposable income.
func synthesizeApplications(n int, seed int64) []LoanApplication {
	rng := rand.New(rand.NewSource(seed))
	applications := make([]LoanApplication, 0, n)

	for i := 0; i < n; i++ {
		income := 15000 + rng.Float64()*85000
		expenses := income * (0.2 + rng.Float64()*0.5)
		emis := income * rng.Float64() * 0.6
		defaults := 0
		if rng.Float64() < 0.25 {
			defaults = 1 + rng.Intn(3)
		}
		history := rng.Intn(120)
		employment := "SALARIED"
		if rng.Float64() < 0.4 {
			employment = "SELF_EMPLOYED"
		}

		disposable := income - expenses - emis
		defaulted := defaults >= 2 || (defaults >= 1 && history < 12) || disposable < 0

		applications = append(applications, LoanApplication{
			MonthlyIncome:       income,
			MonthlyExpenses:     expenses,
			TotalMonthlyEMIs:    emis,
			PastLoanDefaults:    defaults,
			CreditHistoryMonths: history,
			EmploymentType:      employment,
			Age:                 21 + rng.Intn(40),
			RequestedLoanAmount: income * 12 * (0.5 + rng.Float64()*4),
			Defaulted:           defaulted,
		})
	}

	return applications
}

func runBenchmark(applications []LoanApplication, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LoanApplication, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for app := range work {
				start := time.Now()
				result, err := evaluateApplication(client, baseURL, tenantID, app)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: income %.2f -> %v\n", app.MonthlyIncome, err)
					}
					continue
				}

				if app.Defaulted {
					atomic.AddInt64(&metrics.TotalDefaults, 1)
				} else {
					atomic.AddInt64(&metrics.TotalGood, 1)
				}

				switch result.Decision {
				case "APPROVE":
					atomic.AddInt64(&metrics.Approved, 1)
				case "REVIEW":
					atomic.AddInt64(&metrics.Reviewed, 1)
				case "REJECT":
					atomic.AddInt64(&metrics.Rejected, 1)
				}

				// Confusion matrix treats REJECT as the positive class
				predicted := result.Decision == "REJECT"
				actual := app.Defaulted

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s income %10.2f | defaults %d | history %3dmo | defaulted %-5v | kestrel %-7s (%d)\n",
						status,
						app.MonthlyIncome,
						app.PastLoanDefaults,
						app.CreditHistoryMonths,
						app.Defaulted,
						result.Decision,
						result.CreditScore,
					)
				}
			}
		}()
	}

	for _, app := range applications {
		work <- app
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateApplication(client *http.Client, baseURL, tenantID string, app LoanApplication) (*EvaluateResponse, error) {
	req := EvaluateRequest{
		MonthlyIncome:             app.MonthlyIncome,
		MonthlyExpenses:           app.MonthlyExpenses,
		TotalMonthlyEMIs:          app.TotalMonthlyEMIs,
		PastLoanDefaults:          app.PastLoanDefaults,
		CreditHistoryLengthMonths: app.CreditHistoryMonths,
		EmploymentType:            app.EmploymentType,
		Age:                       app.Age,
		RequestedLoanAmount:       app.RequestedLoanAmount,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Defaulted:  %d\n", m.TotalDefaults)
	fmt.Printf("   Total Good:       %d\n", m.TotalGood)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📋 DECISIONS\n")
	fmt.Printf("   Approved:  %d\n", m.Approved)
	fmt.Printf("   Reviewed:  %d\n", m.Reviewed)
	fmt.Printf("   Rejected:  %d\n", m.Rejected)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  REJECT      OTHER")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  D  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           G  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DECISION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of rejections, how many would have defaulted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of defaulters, how many were rejected)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f evals/sec\n", tps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - rejecting most future defaulters")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some defaulters slip through")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant defaults being approved")
	} else {
		fmt.Println("   ❌ Poor recall - most defaulters are being approved!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - rejections are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many good applicants rejected")
	} else {
		fmt.Println("   ❌ Very low precision - mostly wrongful rejections")
	}

	fmt.Println()
}
