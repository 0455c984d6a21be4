// Package sim implements the workload simulator for the aggregation engine.
// It builds a randomly shaped accounting tree, hammers it with one writer
// goroutine per simulated CPU and a periodic flusher, and verifies at the end
// that no accounted update was lost.
package sim

import (
	"context"
	"encoding/csv"
	"fmt"
	cmdUtil "github.com/ValentinKolb/hstat/cmd/util"
	"github.com/ValentinKolb/hstat/lib/hstat"
	"github.com/ValentinKolb/hstat/lib/hstat/util"
	vmetrics "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"math/rand"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	SimCmd = &cobra.Command{
		Use:     "sim",
		Short:   "Workload simulator for the aggregation engine",
		Long:    `Run a configurable workload against the aggregation engine: a randomly shaped accounting tree, one writer goroutine per simulated CPU and a periodic flusher. At the end the simulator verifies that the flushed root total matches the sum of all accounted updates.`,
		RunE:    run,
		PreRunE: processSimConfig,
	}

	simCPUs          = runtime.NumCPU()
	simNodes         = 1000
	simDepth         = 8
	simDuration      = 10 * time.Second
	simFlushInterval = 100 * time.Millisecond
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "cpus"
	SimCmd.Flags().Int(key, runtime.NumCPU(), cmdUtil.WrapString("Number of simulated CPUs (one writer goroutine and one engine shard each)"))

	key = "nodes"
	SimCmd.Flags().Int(key, 1000, cmdUtil.WrapString("Number of accounting nodes to create below the root"))

	key = "depth"
	SimCmd.Flags().Int(key, 8, cmdUtil.WrapString("Maximum depth of the accounting tree"))

	key = "duration"
	SimCmd.Flags().Duration(key, 10*time.Second, cmdUtil.WrapString("How long to run the workload"))

	key = "flush-interval"
	SimCmd.Flags().Duration(key, 100*time.Millisecond, cmdUtil.WrapString("Interval between periodic full-tree flushes"))

	key = "csv"
	SimCmd.Flags().String(key, "", cmdUtil.WrapString("Optional path to save simulation results as CSV"))

	key = "serve-metrics"
	SimCmd.Flags().String(key, "", cmdUtil.WrapString("Optional address to serve the engine's Prometheus metrics on during the run (e.g. localhost:9090)"))
}

// processSimConfig reads the configuration from the command line flags and environment variables
func processSimConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	simCPUs = viper.GetInt("cpus")
	simNodes = viper.GetInt("nodes")
	simDepth = viper.GetInt("depth")
	simDuration = viper.GetDuration("duration")
	simFlushInterval = viper.GetDuration("flush-interval")

	if simCPUs < 1 {
		return fmt.Errorf("cpus must be at least 1 (got %d)", simCPUs)
	}
	if simDepth < 1 {
		return fmt.Errorf("depth must be at least 1 (got %d)", simDepth)
	}
	if simNodes < 0 {
		return fmt.Errorf("nodes must not be negative (got %d)", simNodes)
	}
	if simFlushInterval <= 0 {
		return fmt.Errorf("flush-interval must be positive (got %s)", simFlushInterval)
	}

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	cmdUtil.InitLoggers(viper.GetString("log-level"))

	fmt.Println("Workload simulator for the hstat aggregation engine")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("CPUs:           %d\n", simCPUs)
	fmt.Printf("Nodes:          %d\n", simNodes)
	fmt.Printf("Max depth:      %d\n", simDepth)
	fmt.Printf("Duration:       %s\n", simDuration)
	fmt.Printf("Flush interval: %s\n", simFlushInterval)
	fmt.Println()

	// optionally expose the engine's self-metrics during the run
	if addr := viper.GetString("serve-metrics"); addr != "" {
		http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			vmetrics.WritePrometheus(w, true)
		})
		go func() {
			if err := http.ListenAndServe(addr, nil); err != nil {
				hstat.Logger.Errorf("metrics endpoint failed: %v", err)
			}
		}()
		fmt.Printf("Serving Prometheus metrics on http://%s/metrics\n\n", addr)
	}

	// system-wide per-CPU counters backing the root's reconstructed figures
	sys := make([]atomic.Uint64, simCPUs)

	root := hstat.NewRoot("sim")
	s := hstat.NewSubsystem(root, &hstat.Options{
		Name:   "sim",
		NumCPU: simCPUs,
		RootSource: func(cpu int) hstat.BaseStat {
			return hstat.BaseStat{ExecRuntime: sys[cpu].Load()}
		},
	})

	// build a random tree: each node picks a random already-created parent,
	// rerolling parents that sit at the depth cap
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	depths := map[*hstat.Node]int{root: 0}
	nodes := []*hstat.Node{root}
	for i := 0; i < simNodes; i++ {
		parent := nodes[rng.Intn(len(nodes))]
		for depths[parent] >= simDepth {
			parent = nodes[rng.Intn(len(nodes))]
		}
		n := parent.NewChild(fmt.Sprintf("n%d", i))
		s.MustBind(n)
		depths[n] = depths[parent] + 1
		nodes = append(nodes, n)
	}

	flushTimer := gometrics.GetOrRegisterTimer("flush", gometrics.NewRegistry())
	accountCount := make([]atomic.Uint64, simCPUs)
	var expected atomic.Uint64

	ctx, cancel := context.WithTimeout(context.Background(), simDuration)
	defer cancel()

	var wg sync.WaitGroup

	// one writer goroutine per simulated CPU, hammering random nodes
	wg.Add(simCPUs)
	for cpu := 0; cpu < simCPUs; cpu++ {
		go func(cpu int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(cpu)))
			for ctx.Err() == nil {
				n := nodes[rng.Intn(len(nodes))]
				delta := uint64(rng.Intn(1000) + 1)
				s.AccountExecTime(n, cpu, delta)
				sys[cpu].Add(delta)
				expected.Add(delta)
				accountCount[cpu].Add(1)
			}
		}(cpu)
	}

	// a single periodic flusher
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(simFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				flushTimer.Time(func() { s.Flush(root) })
			}
		}
	}()

	start := time.Now()
	wg.Wait()
	elapsed := time.Since(start)

	// final flush picks up whatever the last tick missed
	flushTimer.Time(func() { s.Flush(root) })

	// every accounted unit must have reached the root's cumulative total,
	// and the reconstructed root figures must agree with it
	rootStat, _ := s.Stat(root)
	if got, want := rootStat.ExecRuntime, expected.Load(); got != want {
		return fmt.Errorf("lost updates: root total %d, accounted %d", got, want)
	}
	reconstructed := s.FlushedStat(root)
	if reconstructed.ExecRuntime != rootStat.ExecRuntime {
		return fmt.Errorf("root reconstruction mismatch: %d != %d", reconstructed.ExecRuntime, rootStat.ExecRuntime)
	}

	var totalAccounts uint64
	perCPU := make([]float64, simCPUs)
	for cpu := range accountCount {
		c := accountCount[cpu].Load()
		totalAccounts += c
		perCPU[cpu] = float64(c)
	}
	dist := util.NewDistributionStats(perCPU)
	info := s.Info()

	// Print results
	fmt.Println("Results:")
	fmt.Printf("%-24s%d\n", "accounted updates", totalAccounts)
	fmt.Printf("%-24s%.0f ops/sec\n", "update throughput", float64(totalAccounts)/elapsed.Seconds())
	fmt.Printf("%-24s%d\n", "root total", rootStat.ExecRuntime)
	fmt.Printf("%-24s%d\n", "bindings", info.Bindings)
	fmt.Printf("%-24s%d\n", "flushes", flushTimer.Count())
	fmt.Printf("%-24s%s\n", "flush mean", time.Duration(flushTimer.Mean()))
	fmt.Printf("%-24s%s\n", "flush p95", time.Duration(flushTimer.Percentile(0.95)))
	fmt.Printf("%-24s%s\n", "flush max", time.Duration(flushTimer.Max()))
	fmt.Printf("%-24s%.3f (1.0 = perfectly even)\n", "update distribution", dist.DistributionQuality)
	fmt.Println()
	fmt.Println("no lost updates, root reconstruction consistent")

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, totalAccounts, elapsed, flushTimer, dist); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// writeResultsToCSV writes the simulation results to a CSV file
func writeResultsToCSV(csvPath string, totalAccounts uint64, elapsed time.Duration, flushTimer gometrics.Timer, dist util.DistributionStats) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"CPUs", "Nodes", "MaxDepth", "Duration", "FlushInterval",
		"AccountedUpdates", "UpdatesPerSec",
		"Flushes", "FlushMeanNs", "FlushP95Ns", "FlushMaxNs",
		"UpdateDistributionQuality",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	row := []string{
		strconv.Itoa(simCPUs),
		strconv.Itoa(simNodes),
		strconv.Itoa(simDepth),
		simDuration.String(),
		simFlushInterval.String(),
		strconv.FormatUint(totalAccounts, 10),
		fmt.Sprintf("%.0f", float64(totalAccounts)/elapsed.Seconds()),
		strconv.FormatInt(flushTimer.Count(), 10),
		fmt.Sprintf("%.0f", flushTimer.Mean()),
		fmt.Sprintf("%.0f", flushTimer.Percentile(0.95)),
		strconv.FormatInt(flushTimer.Max(), 10),
		fmt.Sprintf("%.3f", dist.DistributionQuality),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %v", err)
	}

	return nil
}
