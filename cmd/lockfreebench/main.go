// Command lockfreebench drives lockfreemap/pkg/hashmap with a configurable
// number of worker goroutines, each hammering a disjoint key range through
// a put/get/remove pass — the same shape as the map's own disjoint-
// concurrency test, just with adjustable size for manual stress testing.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"lockfreemap/pkg/hashmap"
)

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "lockfreebench: maxprocs: %v\n", err)
	}

	var (
		workers   = pflag.IntP("workers", "w", 8, "number of concurrent worker goroutines")
		perWorker = pflag.IntP("keys", "k", 10000, "keys put/got/removed per worker, disjoint ranges")
		verbose   = pflag.BoolP("verbose", "v", false, "enable debug-level logging")
	)
	pflag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	if err := run(log, *workers, *perWorker); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger, workers, perWorker int) error {
	mp := hashmap.New()
	defer mp.Close()

	log.Info().Int("workers", workers).Int("keys_per_worker", perWorker).Msg("starting stress run")
	start := time.Now()

	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		eg.Go(func() error {
			return runWorker(mp, w, perWorker, log)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	log.Info().
		Dur("elapsed", elapsed).
		Int64("final_count", mp.Count()).
		Uint64("final_capacity", mp.Capacity()).
		Int64("nodes_freed", mp.Stats().NodesFreed).
		Msg("stress run complete")

	if mp.Count() != 0 {
		return fmt.Errorf("expected empty map after full remove pass, got count=%d", mp.Count())
	}
	return nil
}

func runWorker(mp *hashmap.Map, id, perWorker int, log zerolog.Logger) error {
	h, err := mp.Register()
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	defer h.Unregister()

	base := uint64(id*perWorker + 1)

	for i := 0; i < perWorker; i++ {
		key := base + uint64(i)
		h.Put(key, key)
	}
	log.Debug().Int("worker", id).Msg("put phase complete")

	for i := 0; i < perWorker; i++ {
		key := base + uint64(i)
		if got := h.Get(key); got != key {
			return fmt.Errorf("worker %d: key %d: expected %d, got %v", id, key, key, got)
		}
	}
	log.Debug().Int("worker", id).Msg("get phase complete")

	for i := 0; i < perWorker; i++ {
		key := base + uint64(i)
		if got := h.Remove(key); got != key {
			return fmt.Errorf("worker %d: remove key %d: expected %d, got %v", id, key, key, got)
		}
	}
	log.Debug().Int("worker", id).Msg("remove phase complete")
	return nil
}
