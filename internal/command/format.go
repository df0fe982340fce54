package command

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yegors/afkfleet/internal/fleet"
	"github.com/yegors/afkfleet/internal/session"
)

func resultLine(r session.Result) string {
	if r.OK {
		return r.Message
	}
	return "err: " + r.Message
}

func summaryLine(s fleet.Summary) string {
	phases := make([]string, 0, len(s.ByPhase))
	for phase, n := range s.ByPhase {
		phases = append(phases, fmt.Sprintf("%s=%d", phase, n))
	}
	sort.Strings(phases)
	line := fmt.Sprintf("%d slots: %s", s.Total, strings.Join(phases, " "))
	if s.Paused > 0 {
		line += fmt.Sprintf(" paused=%d", s.Paused)
	}
	if s.InLobby > 0 {
		line += fmt.Sprintf(" lobby=%d", s.InLobby)
	}
	return line
}

func statusLine(st session.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s %s", st.Slot, st.Identity, st.Phase)
	if st.Paused {
		b.WriteString(" paused")
	}
	if st.InLobby {
		b.WriteString(" in-lobby")
	}
	if st.ReconnectAttempts > 0 {
		fmt.Fprintf(&b, " attempt=%d", st.ReconnectAttempts)
	}
	if st.VitalLevel != nil {
		fmt.Fprintf(&b, " food=%d", *st.VitalLevel)
	}
	if st.Position != nil {
		fmt.Fprintf(&b, " pos=(%.0f, %.0f, %.0f)", st.Position.X, st.Position.Y, st.Position.Z)
	}
	if st.ProtectionEnabled {
		b.WriteString(" protection=on")
	}
	return b.String()
}

func statsLine(slot int, identity string, st session.Stats, now time.Time) string {
	uptime := "none"
	if st.Uptime > 0 {
		uptime = humanize.RelTime(now.Add(-st.Uptime), now, "", "")
	}
	last := "never"
	if !st.LastDisconnect.IsZero() {
		last = humanize.RelTime(st.LastDisconnect, now, "ago", "from now")
	}
	return fmt.Sprintf("[%d] %s uptime %s, reconnects %s, alerts %s, blocks cleared %s, lobby events %s, last disconnect %s",
		slot, identity,
		strings.TrimSpace(uptime),
		humanize.Comma(int64(st.Reconnects)),
		humanize.Comma(int64(st.AlertsTriggered)),
		humanize.Comma(int64(st.BlocksCleared)),
		humanize.Comma(int64(st.LobbyEvents)),
		last)
}
