// Command vmstatd serves Prometheus metrics for a running vm.Kernel over
// HTTP, in the same flags-plus-promhttp-handler shape as a systemd-exporter
// binary.
package main

import (
	"context"
	"log"
	"net/http"

	// Registers pprof-over-http handlers alongside the metrics endpoint,
	// so a frame-pressure incident can be profiled without a separate
	// binary.
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"vmkern/diag"
	"vmkern/hw"
	"vmkern/hwtest"
	"vmkern/metrics"
	"vmkern/page"
	"vmkern/vm"
)

var (
	listenAddress = kingpin.Flag("web.listen-address", "Address on which to expose metrics and pprof.").Default(":9401").String()
	metricsPath   = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics.").Default("/metrics").String()
	residencyPath = kingpin.Flag("web.residency-path", "Path under which to expose the frame residency pprof profile.").Default("/debug/residency").String()
	maxStackBytes = kingpin.Flag("vm.max-stack-bytes", "Maximum bytes a stack may grow downward from its initial top.").Default("8388608").Int()
	framePages    = kingpin.Flag("vm.frame-pages", "Number of physical frames in the simulated pool.").Default("256").Int()
	swapSectors   = kingpin.Flag("vm.swap-sectors", "Number of sectors on the simulated swap disk.").Default("16384").Int()
	probePages    = kingpin.Flag("vm.probe-pages", "Number of anonymous pages to claim in a demo address space, so the residency endpoint has something to report.").Default("4").Int()
)

// probeUserStackTop is the stack top handed to the demo Space vmstatd
// claims a few pages into; it has no real process or hardware behind it,
// so any page-aligned value works.
const probeUserStackTop = hw.VAddr(0x4000_0000)

func main() {
	version.Version = "0.1.0"
	kingpin.Version(version.Print("vmstatd"))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	// vmstatd has no real MMU or disk controller to attach to — it
	// drives the subsystem against the same in-memory fakes the test
	// suite uses, purely to have live counters to export.
	k, err := vm.Init(vm.Config{
		Alloc:         hwtest.NewAllocator(*framePages),
		MMU:           hwtest.NewMMU(),
		Disk:          hwtest.NewDisk(*swapSectors),
		MaxStackBytes: *maxStackBytes,
	})
	if err != nil {
		log.Fatalf("vmstatd: %v", err)
	}

	prometheus.MustRegister(metrics.NewCollector(k))

	probe := k.NewSpace(1, probeUserStackTop)
	for i := 0; i < *probePages; i++ {
		va := probeUserStackTop - hw.VAddr((i+1)*hw.PageSize)
		if !probe.AllocPageWithInitializer(page.KindAnon, va, true, nil, nil) {
			log.Fatalf("vmstatd: could not register probe page %#x", va)
		}
		if !probe.ClaimPage(context.Background(), va) {
			log.Fatalf("vmstatd: could not claim probe page %#x", va)
		}
	}

	http.Handle(*metricsPath, promhttp.Handler())
	http.HandleFunc(*residencyPath, func(w http.ResponseWriter, r *http.Request) {
		snap := diag.Collect(k.FramePool(), probe.ResidentPages())
		w.Header().Set("Content-Type", "application/octet-stream")
		if err := snap.Write(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	log.Printf("vmstatd: listening on %s, metrics at %s, residency profile at %s", *listenAddress, *metricsPath, *residencyPath)
	log.Fatal(http.ListenAndServe(*listenAddress, nil))
}
