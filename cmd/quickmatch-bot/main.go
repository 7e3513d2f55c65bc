// quickmatch-bot simula participantes contra um quickmatchd: cada bot pede
// partida, confirma (ou recusa) e entra na sessão recebida.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
)

func main() {
	var opts botOptions
	flag.StringVar(&opts.ServerURL, "server", "ws://127.0.0.1:8080/ws", "matchmaking websocket url")
	flag.IntVar(&opts.Count, "n", 3, "number of bots")
	flag.IntVar(&opts.DeclineEvery, "decline-every", 0, "every Nth bot declines its first match (0 = never)")
	flag.BoolVar(&opts.Join, "join", true, "join the session after match_starting")
	flag.DurationVar(&opts.Hold, "hold", 2*time.Second, "time spent inside the session")
	flag.DurationVar(&opts.Timeout, "timeout", time.Minute, "per-bot deadline")
	prefix := flag.String("prefix", "", "participant id prefix (random when empty)")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if opts.Count <= 0 {
		pterm.Error.Println("-n must be > 0")
		os.Exit(2)
	}
	if *prefix == "" {
		*prefix = "bot-" + uuid.NewString()[:8]
	}
	opts.Prefix = *prefix

	plog := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)
	if *debug {
		plog = pterm.DefaultLogger.WithLevel(pterm.LogLevelDebug)
	}
	logger := slog.New(pterm.NewSlogHandler(plog))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pterm.Info.Printfln("starting %d bots against %s", opts.Count, opts.ServerURL)
	spinner, _ := pterm.DefaultSpinner.Start("waiting for matches...")

	results := make([]botResult, opts.Count)
	var wg sync.WaitGroup
	for i := 0; i < opts.Count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := newBot(i, opts, logger)
			results[i] = b.run(ctx)
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		spinner.Success("all bots finished")
	} else {
		spinner.Warning(fmt.Sprintf("%d of %d bots failed", failed, opts.Count))
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(resultTable(results)).Srender()
	if err != nil {
		logger.Error("render summary", "err", err)
		os.Exit(1)
	}
	pterm.Println(table)
	if failed > 0 {
		os.Exit(1)
	}
}

func resultTable(results []botResult) pterm.TableData {
	sorted := append([]botResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Participant < sorted[j].Participant })

	data := pterm.TableData{{"Participant", "Outcome", "Session", "Declines", "Elapsed"}}
	for _, r := range sorted {
		outcome := r.Outcome
		if r.Err != nil {
			outcome = pterm.LightRed(r.Err.Error())
		}
		data = append(data, []string{
			r.Participant,
			outcome,
			r.Session,
			pterm.Sprint(r.Declines),
			r.Elapsed.Round(time.Millisecond).String(),
		})
	}
	return data
}
