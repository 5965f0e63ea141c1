// Command vaultdex-gc is a standalone orphaned-block sweep tool: it
// opens a vaultdex data directory directly (the daemon does not need to
// be running) and runs one or more GC passes, logging each pass as it
// completes. Adapted from cmd/warren-migrate's flag-parsed,
// open-the-database-directly, dry-run-first shape, repurposed from
// "migrate task records to container records" to "sweep and report
// orphaned blocks."
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/cuemby/vaultdex/pkg/gc"
	"github.com/cuemby/vaultdex/pkg/store"
)

var (
	dataDir     = flag.String("data-dir", "./vaultdex-data", "vaultdex data directory")
	dryRun      = flag.Bool("dry-run", false, "report orphaned blocks without deleting them")
	gracePeriod = flag.Duration("grace-period", gc.DefaultGracePeriod, "minimum time a block must sit unreferenced before it is reclaimed")
	passes      = flag.Int("passes", 1, "number of sweep passes to run (a block needs at least two passes straddling the grace period to be reclaimed)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("vaultdex orphaned-block sweep")
	log.Println("=============================")
	log.Printf("data dir:     %s", *dataDir)
	log.Printf("grace period: %s", *gracePeriod)
	log.Printf("dry run:      %v", *dryRun)

	backing, err := store.NewBoltStore(*dataDir)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer backing.Close()

	if *dryRun {
		reportOnly(backing)
		return
	}

	sweeper := gc.New(backing, gc.Config{Interval: time.Hour, GracePeriod: *gracePeriod})
	for i := 0; i < *passes; i++ {
		if err := sweeper.Sweep(); err != nil {
			log.Fatalf("sweep pass %d failed: %v", i+1, err)
		}
		log.Printf("sweep pass %d complete", i+1)
	}
	log.Println("done")
}

// reportOnly lists blocks currently at zero references without deleting
// anything, so an operator can see what a real sweep would eventually
// reclaim.
func reportOnly(backing store.Store) {
	all, err := backing.ListAllBlocks()
	if err != nil {
		log.Fatalf("failed to list blocks: %v", err)
	}

	var orphaned int
	for _, rec := range all {
		refs, err := backing.ListBlockRefs(rec.Hash)
		if err != nil {
			log.Fatalf("failed to list refs for %s: %v", rec.Hash, err)
		}
		if len(refs) == 0 {
			orphaned++
			fmt.Printf("orphaned: %s (%d bytes)\n", rec.Hash, len(rec.Content))
		}
	}
	log.Printf("%d/%d blocks currently unreferenced", orphaned, len(all))
}
