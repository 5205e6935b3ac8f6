// Package main provides the entry point for the archreview CLI tool.
package main

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	nethttppprof "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/archreview/archreview/cmd/archreview/commands"
	"github.com/archreview/archreview/pkg/version"
)

// Memory watchdog and pprof configuration constants.
const (
	// watchdogInterval is the polling interval for the memory watchdog.
	watchdogInterval = 2 * time.Second

	// megabyte is 1 MiB in bytes, used for unit conversions.
	megabyte = 1024 * 1024

	// rssThresholdMiB is the RSS threshold in MiB above which heap dumps are triggered.
	rssThresholdMiB = 4096

	// pprofReadHeaderTimeout is the read header timeout for the pprof HTTP server.
	pprofReadHeaderTimeout = 10 * time.Second
)

// readRSSMiB reads current RSS from /proc/self/statm.
func readRSSMiB() int64 {
	f, err := os.Open("/proc/self/statm")
	if err != nil {
		return 0
	}
	defer f.Close()

	var vsize, rss int64

	_, scanErr := fmt.Fscan(f, &vsize)
	if scanErr != nil {
		return 0
	}

	_, scanErr = fmt.Fscan(f, &rss)
	if scanErr != nil {
		return 0
	}

	return rss * int64(os.Getpagesize()) / megabyte
}

// readProcField reads a named field from /proc/self/status.
func readProcField(field string) string {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, field); ok {
			return strings.TrimSpace(after)
		}
	}

	return ""
}

// readSmapsRollup reads /proc/self/smaps_rollup for memory region summary.
func readSmapsRollup() string {
	f, err := os.Open("/proc/self/smaps_rollup")
	if err != nil {
		return ""
	}
	defer f.Close()

	var sb strings.Builder

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		for _, prefix := range []string{
			"Rss:", "Pss:", "Anonymous:", "AnonHugePages:",
			"Shared_Clean:", "Shared_Dirty:",
			"Private_Clean:", "Private_Dirty:",
		} {
			if strings.HasPrefix(line, prefix) {
				sb.WriteString(line)
				sb.WriteByte(' ')
			}
		}
	}

	return sb.String()
}

// saveProcMaps copies /proc/self/maps to a file for offline analysis.
func saveProcMaps(path string) {
	src, err := os.Open("/proc/self/maps")
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return
	}
	defer dst.Close()

	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		fmt.Fprintln(dst, scanner.Text())
	}
}

// handleRSSSpike dumps heap profile and /proc/self/maps when RSS exceeds threshold.
// Returns the updated dump count.
func handleRSSSpike(dumpCount int, rssMiB int64, dumpDir string) int {
	dumpCount++

	smaps := readSmapsRollup()
	log.Printf("SPIKE #%d: RSS=%d MiB smaps: %s", dumpCount, rssMiB, smaps)

	dumpHeapProfile(dumpDir, dumpCount, rssMiB)

	if dumpCount == 1 {
		saveProcMaps(fmt.Sprintf("%s/maps_spike_%dMiB.txt", dumpDir, rssMiB))
	}

	return dumpCount
}

// dumpHeapProfile writes a heap profile to the dump directory.
func dumpHeapProfile(dumpDir string, dumpCount int, rssMiB int64) {
	path := fmt.Sprintf("%s/heap_spike_%d_%dMiB.pb.gz", dumpDir, dumpCount, rssMiB)

	out, err := os.Create(path)
	if err != nil {
		return
	}
	defer out.Close()

	writeErr := pprof.Lookup("heap").WriteTo(out, 0)
	if writeErr != nil {
		log.Printf("heap profile write error: %v", writeErr)
	}
}

// startMemoryWatchdog logs RSS, GoHeap, GoSys, OS threads, and goroutine
// count every watchdogInterval, and on threshold breach dumps a heap
// profile plus a /proc/self/maps snapshot. The pkg/uast parser holds
// tree-sitter parse trees behind cgo, which glibc's default arena count
// can fragment badly under concurrent chunking load; this gives an
// operator something to look at when RSS runs away.
func startMemoryWatchdog(thresholdMiB int, dumpDir string) {
	go func() {
		dumpCount := 0
		tick := 0

		tickSeconds := int(watchdogInterval / time.Second)

		for {
			time.Sleep(watchdogInterval)

			tick++

			rssMiB := readRSSMiB()
			threads := readProcField("Threads:")

			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)

			goHeapMiB := ms.HeapInuse / megabyte
			goSysMiB := ms.Sys / megabyte
			nativeMiB := rssMiB - int64(goSysMiB)
			goroutines := runtime.NumGoroutine()

			log.Printf("MEM t=%d RSS=%d GoHeap=%d GoSys=%d Native=%d threads=%s goroutines=%d",
				tick*tickSeconds, rssMiB, goHeapMiB, goSysMiB, nativeMiB, threads, goroutines)

			if rssMiB > int64(thresholdMiB) && dumpCount < 5 {
				dumpCount = handleRSSSpike(dumpCount, rssMiB, dumpDir)
			}
		}
	}()

	saveProcMaps(fmt.Sprintf("%s/maps_baseline.txt", "/tmp"))
}

// ensureMallocTunables re-execs the process with glibc malloc env vars
// set. glibc reads these at the very first malloc() call, before any
// threads exist; mallopt() called later from Go/cgo is too late.
//
// MALLOC_ARENA_MAX=2: limit to 2 arenas (default 8*cores = 192 on 24-core).
// MALLOC_MMAP_THRESHOLD_=32768: allocations >= 32 KiB use mmap -> freed on free().
// MALLOC_TRIM_THRESHOLD_=16384: trim arenas aggressively.
// MALLOC_MMAP_MAX_=65536: allow many concurrent mmap regions.
//
// With MMAP_THRESHOLD=32K, tree-sitter parse trees (100 KiB - 10 MiB)
// bypass arenas entirely, preventing the fragmentation that otherwise
// lets a couple of arenas grow unbounded under concurrent cgo load.
func ensureMallocTunables() {
	if os.Getenv("MALLOC_ARENA_MAX") != "" {
		return // already configured (re-exec completed or manual override).
	}

	exe, err := os.Executable()
	if err != nil {
		return // best-effort; continue without tuning.
	}

	os.Setenv("MALLOC_ARENA_MAX", "2")
	os.Setenv("MALLOC_MMAP_THRESHOLD_", "32768")
	os.Setenv("MALLOC_TRIM_THRESHOLD_", "16384")
	os.Setenv("MALLOC_MMAP_MAX_", "65536")

	execErr := syscall.Exec(exe, os.Args, os.Environ())
	if execErr != nil {
		log.Printf("re-exec failed: %v", execErr)
	}
}

func main() {
	ensureMallocTunables()

	// Start pprof HTTP server on localhost:6060 with explicit handler
	// registration (avoids gosec G108: DefaultServeMux exposure) and
	// read header timeout (avoids gosec G114: no timeouts).
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", nethttppprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", nethttppprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", nethttppprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", nethttppprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", nethttppprof.Trace)
		server := &http.Server{
			Addr:              "localhost:6060",
			Handler:           mux,
			ReadHeaderTimeout: pprofReadHeaderTimeout,
		}
		log.Println(server.ListenAndServe())
	}()

	startMemoryWatchdog(rssThresholdMiB, "/tmp")

	version.InitBinaryVersion()

	rootCmd := commands.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
