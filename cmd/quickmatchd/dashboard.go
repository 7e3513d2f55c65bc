package main

import (
	"context"
	"sort"
	"time"

	"github.com/pterm/pterm"

	"quickmatch-server/matchmaking/application"
	"quickmatch-server/matchmaking/domain"
	"quickmatch-server/matchmaking/infra"
)

func printBanner(cfg config) {
	pterm.DefaultSection.Println("quickmatch")
	pterm.Info.Printfln("listen=%s slots=%s_xxxxxxxx ports=%d+", cfg.ListenAddr, cfg.RoomPrefix, cfg.BasePort)
	pterm.Info.Printfln("pool: spare=%d capacity=%d idle=%s setup=%s", cfg.TargetSpare, cfg.SlotCapacity, cfg.IdleShutdown, cfg.SetupTimeout)
	pterm.Info.Printfln("handshake: reconnect=%s confirm=%s", cfg.ReconnectGrace, cfg.ConfirmTimeout)
	pterm.Info.Printfln("admission: max=%d wait=%s", cfg.MaxParticipants, cfg.AdmissionWait)
	pterm.Info.Printfln("rate: rps=%.3f burst=%d connect=%v trustXFF=%v", cfg.RateRPS, cfg.RateBurst, cfg.ConnectRateEnabled, cfg.TrustXFF)
	pterm.Info.Printfln("stats: redis=%v addr=%q bucket=%q ttl=%s", cfg.Stats.Enabled, cfg.Stats.RedisAddr, cfg.Stats.Bucket, cfg.Stats.TTL)
}

// runDashboard imprime o estado do pool a cada intervalo até o ctx encerrar.
func runDashboard(ctx context.Context, auth *application.Authority, counters *infra.MemoryStatsStore, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		printDashboard(ctx, auth, counters)
	}
}

func printDashboard(ctx context.Context, auth *application.Authority, counters *infra.MemoryStatsStore) {
	callCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	st, err := auth.Statistics(callCtx)
	if err != nil {
		return
	}
	slots, err := auth.Slots(callCtx)
	if err != nil {
		return
	}
	pterm.Println(renderDashboard(st, slots, counters.Total()))
}

func renderDashboard(st domain.Statistics, slots []domain.Slot, totals map[domain.StatsKind]int64) string {
	sort.Slice(slots, func(i, j int) bool { return slots[i].Port < slots[j].Port })

	data := pterm.TableData{{"Session", "Port", "Players", "State", "Reservation"}}
	for _, s := range slots {
		data = append(data, []string{
			s.Session,
			pterm.Sprint(s.Port),
			pterm.Sprintf("%d/%d", s.Occupancy, s.Capacity),
			s.State.String(),
			s.Reservation.String(),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		table = err.Error()
	}

	summary := pterm.Sprintfln("online: %d  connected: %d", st.OnlineParticipants, st.ConnectedLinks)
	summary += pterm.Sprintfln("slots: %d  spare: %d  full: %d", st.TotalSlots, st.SpareSlots, st.FullSlots)
	summary += pterm.Sprintfln("queued: %d  pending: %d", st.Queued, st.PendingMatches)

	kinds := make([]string, 0, len(totals))
	for k := range totals {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	counts := ""
	for _, k := range kinds {
		counts += pterm.Sprintfln("%s: %d", k, totals[domain.StatsKind(k)])
	}
	if counts == "" {
		counts = "no events yet"
	}

	box := pterm.DefaultBox.WithLeftPadding(2).WithRightPadding(2)
	panels, err := pterm.DefaultPanel.WithPanels(pterm.Panels{
		{
			{Data: box.WithTitle(pterm.LightCyan("|POOL|")).Sprint(summary)},
			{Data: box.WithTitle(pterm.LightYellow("|EVENTS|")).Sprint(counts)},
		},
	}).Srender()
	if err != nil {
		panels = summary
	}
	return panels + "\n" + table
}
