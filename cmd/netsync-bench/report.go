package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"runtime/metrics"
	"strings"
	"text/tabwriter"
	"time"
)

type runtimeMetricsSnapshot struct {
	cpuTotalSeconds float64
	cpuGCSeconds    float64

	heapAllocsBytes   uint64
	heapAllocsObjects uint64
}

func readRuntimeMetrics() runtimeMetricsSnapshot {
	samples := []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/gc/total:cpu-seconds"},
		{Name: "/gc/heap/allocs:bytes"},
		{Name: "/gc/heap/allocs:objects"},
	}
	metrics.Read(samples)

	var out runtimeMetricsSnapshot
	for _, s := range samples {
		switch s.Name {
		case "/cpu/classes/total:cpu-seconds":
			out.cpuTotalSeconds = s.Value.Float64()
		case "/cpu/classes/gc/total:cpu-seconds":
			out.cpuGCSeconds = s.Value.Float64()
		case "/gc/heap/allocs:bytes":
			out.heapAllocsBytes = s.Value.Uint64()
		case "/gc/heap/allocs:objects":
			out.heapAllocsObjects = s.Value.Uint64()
		}
	}
	return out
}

func cpuFraction(after, before runtimeMetricsSnapshot) float64 {
	total := after.cpuTotalSeconds - before.cpuTotalSeconds
	if total <= 0 {
		return 0
	}
	gc := after.cpuGCSeconds - before.cpuGCSeconds
	if gc < 0 {
		return 0
	}
	return gc / total
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func avgPause(after, before runtime.MemStats) time.Duration {
	gcCount := after.NumGC - before.NumGC
	if gcCount == 0 {
		return 0
	}
	return time.Duration((after.PauseTotalNs - before.PauseTotalNs) / uint64(gcCount))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version     string          `json:"version"`
	Run         runInfo         `json:"run"`
	Workload    workloadInfo    `json:"workload"`
	RTTMS       latencyInfo     `json:"rtt_ms"`
	Throughput  throughputInfo  `json:"throughput"`
	Replication replicationInfo `json:"replication"`
	GC          gcInfo          `json:"gc"`
	Errors      errorInfo       `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	GitCommit string `json:"git_commit,omitempty"`
}

type workloadInfo struct {
	Profile       string  `json:"profile"`
	External      bool    `json:"external_server"`
	Clients       int     `json:"clients"`
	DurationMS    int64   `json:"duration_ms"`
	InputHz       float64 `json:"input_hz"`
	TickMS        float64 `json:"tick_ms"`
	MaxProcs      int     `json:"max_procs"`
	MemLimitBytes int64   `json:"mem_limit_bytes"`
}

type latencyInfo struct {
	Samples int     `json:"samples"`
	Min     float64 `json:"min"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
	Max     float64 `json:"max"`
}

type throughputInfo struct {
	InputsTotal     uint64  `json:"inputs_total"`
	InputsPerSec    float64 `json:"inputs_per_sec"`
	PacketsSent     uint64  `json:"packets_sent"`
	PacketsReceived uint64  `json:"packets_received"`
	BytesSent       uint64  `json:"bytes_sent"`
	BytesReceived   uint64  `json:"bytes_received"`
	AvgPacketBytes  float64 `json:"avg_received_packet_bytes"`
}

type replicationInfo struct {
	Actions  uint64 `json:"actions"`
	Updates  uint64 `json:"updates"`
	Messages uint64 `json:"messages"`
	Pongs    uint64 `json:"pongs"`
}

type gcInfo struct {
	AllocMB       float64 `json:"alloc_mb"`
	HeapLiveMB    float64 `json:"heap_live_mb"`
	NumGC         uint32  `json:"num_gc"`
	PauseTotalMS  float64 `json:"pause_total_ms"`
	PauseAvgMS    float64 `json:"pause_avg_ms"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
	AllocsObjects uint64  `json:"allocs_objects"`
}

type errorInfo struct {
	TotalErrors            uint64 `json:"total_errors"`
	HandshakeFailures      uint64 `json:"handshake_failures"`
	WriteFailures          uint64 `json:"write_failures"`
	PacketDecodeFailures   uint64 `json:"packet_decode_failures"`
	EnvelopeDecodeFailures uint64 `json:"envelope_decode_failures"`
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	rtts []time.Duration,
	counters *benchCounters,
	errs *benchErrors,
	before runtime.MemStats,
	after runtime.MemStats,
	beforeMetrics runtimeMetricsSnapshot,
	afterMetrics runtimeMetricsSnapshot,
) benchReport {
	inputs := counters.inputsSent.Load()
	received := counters.packetsReceived.Load()
	bytesReceived := counters.bytesReceived.Load()

	elapsedSeconds := math.Max(0.001, elapsed.Seconds())

	rtt := latencyInfo{Samples: len(rtts)}
	if len(rtts) > 0 {
		rtt.Min = ms(rtts[0])
		rtt.P50 = ms(percentile(rtts, 0.50))
		rtt.P95 = ms(percentile(rtts, 0.95))
		rtt.P99 = ms(percentile(rtts, 0.99))
		rtt.Max = ms(rtts[len(rtts)-1])
	}

	avgPacket := 0.0
	if received > 0 {
		avgPacket = float64(bytesReceived) / float64(received)
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			GitCommit: gitCommit(),
		},
		Workload: workloadInfo{
			Profile:       cfg.Profile,
			External:      cfg.URL != "",
			Clients:       cfg.Clients,
			DurationMS:    cfg.Duration.Milliseconds(),
			InputHz:       cfg.InputHz,
			TickMS:        ms(cfg.TickRate),
			MaxProcs:      cfg.MaxProcs,
			MemLimitBytes: cfg.MemLimitBytes,
		},
		RTTMS: rtt,
		Throughput: throughputInfo{
			InputsTotal:     inputs,
			InputsPerSec:    float64(inputs) / elapsedSeconds,
			PacketsSent:     counters.packetsSent.Load(),
			PacketsReceived: received,
			BytesSent:       counters.bytesSent.Load(),
			BytesReceived:   bytesReceived,
			AvgPacketBytes:  avgPacket,
		},
		Replication: replicationInfo{
			Actions:  counters.replicationActions.Load(),
			Updates:  counters.replicationUpdates.Load(),
			Messages: counters.messages.Load(),
			Pongs:    counters.pongs.Load(),
		},
		GC: gcInfo{
			AllocMB:       float64(after.TotalAlloc-before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:    float64(after.HeapAlloc) / (1024 * 1024),
			NumGC:         after.NumGC - before.NumGC,
			PauseTotalMS:  ms(time.Duration(after.PauseTotalNs - before.PauseTotalNs)),
			PauseAvgMS:    ms(avgPause(after, before)),
			GCCPUFraction: cpuFraction(afterMetrics, beforeMetrics),
			AllocsObjects: afterMetrics.heapAllocsObjects - beforeMetrics.heapAllocsObjects,
		},
		Errors: errorInfo{
			TotalErrors:            errs.totalErrors.Load(),
			HandshakeFailures:      errs.handshakeFailures.Load(),
			WriteFailures:          errs.writeFailures.Load(),
			PacketDecodeFailures:   errs.packetDecodeFailures.Load(),
			EnvelopeDecodeFailures: errs.envelopeDecodeFailures.Load(),
		},
	}
}

func writeSummary(w io.Writer, r benchReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	server := fmt.Sprintf("in-process, %.1f ms tick", r.Workload.TickMS)
	if r.Workload.External {
		server = "external"
	}
	fmt.Fprintln(tw, "=== netsync load benchmark ===")
	fmt.Fprintf(tw, "profile\t%s\n", r.Workload.Profile)
	fmt.Fprintf(tw, "server\t%s\n", server)
	fmt.Fprintf(tw, "clients\t%d at %.1f inputs/s for %s\n", r.Workload.Clients, r.Workload.InputHz,
		time.Duration(r.Workload.DurationMS)*time.Millisecond)
	if r.Workload.MaxProcs > 0 {
		fmt.Fprintf(tw, "GOMAXPROCS\t%d\n", r.Workload.MaxProcs)
	}
	if r.Workload.MemLimitBytes > 0 {
		fmt.Fprintf(tw, "GOMEMLIMIT\t%.2f GiB\n", float64(r.Workload.MemLimitBytes)/float64(gib))
	}

	fmt.Fprintln(tw, "\t")
	fmt.Fprintf(tw, "inputs\t%d (%.1f/s)\n", r.Throughput.InputsTotal, r.Throughput.InputsPerSec)
	fmt.Fprintf(tw, "packets out/in\t%d / %d\n", r.Throughput.PacketsSent, r.Throughput.PacketsReceived)
	fmt.Fprintf(tw, "bytes out/in\t%d / %d (avg %.1f per packet in)\n",
		r.Throughput.BytesSent, r.Throughput.BytesReceived, r.Throughput.AvgPacketBytes)
	fmt.Fprintf(tw, "replication\t%d actions, %d updates\n", r.Replication.Actions, r.Replication.Updates)
	fmt.Fprintf(tw, "messages\t%d\n", r.Replication.Messages)
	fmt.Fprintf(tw, "errors\t%d\n", r.Errors.TotalErrors)

	fmt.Fprintln(tw, "\t")
	if r.RTTMS.Samples == 0 {
		fmt.Fprintln(tw, "rtt\tno samples")
	} else {
		fmt.Fprintf(tw, "rtt samples\t%d\n", r.RTTMS.Samples)
		fmt.Fprintf(tw, "rtt min/p50/p95\t%.2f / %.2f / %.2f ms\n", r.RTTMS.Min, r.RTTMS.P50, r.RTTMS.P95)
		fmt.Fprintf(tw, "rtt p99/max\t%.2f / %.2f ms\n", r.RTTMS.P99, r.RTTMS.Max)
	}

	fmt.Fprintln(tw, "\t")
	fmt.Fprintf(tw, "alloc\t%.2f MB (%d objects)\n", r.GC.AllocMB, r.GC.AllocsObjects)
	fmt.Fprintf(tw, "heap live\t%.2f MB\n", r.GC.HeapLiveMB)
	fmt.Fprintf(tw, "gc cycles\t%d\n", r.GC.NumGC)
	fmt.Fprintf(tw, "gc pause\t%.2f ms total, %.2f ms avg\n", r.GC.PauseTotalMS, r.GC.PauseAvgMS)
	fmt.Fprintf(tw, "gc cpu\t%.2f%%\n", r.GC.GCCPUFraction*100)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func gitCommit() string {
	if val := strings.TrimSpace(os.Getenv("NETSYNC_GIT_COMMIT")); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv("GIT_COMMIT")); val != "" {
		return val
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
