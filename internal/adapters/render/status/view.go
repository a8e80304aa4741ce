package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/umeng-cli/internal/application"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now time.Time
}

func renderView(status application.ThrottleStatus, opts RenderOptions, s styles) string {
	policy := status.Policy
	state := status.State

	lines := []string{
		s.title.Render("Umeng Request Throttle"),
		s.header.Render(fmt.Sprintf("window: %s  anchor: %s", policy.Window, policy.Anchor)),
	}

	if state.WindowResetAt == nil && state.RequestCount == 0 && !state.CooldownActive {
		lines = append(lines, s.section.Render(s.empty.Render("No requests recorded in the current window.")))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	body := []string{quotaLine(state.RequestCount, policy.Ceiling, s)}

	if state.WindowResetAt != nil {
		windowEnd := state.WindowResetAt.Add(policy.Window)
		body = append(body, s.detail.Render(fmt.Sprintf(
			"window started: %s (%s)",
			formatClock(*state.WindowResetAt, opts.Now),
			formatResetRelative(windowEnd, opts.Now),
		)))
	}

	lastRequest := "never"
	if state.LastRequestAt != nil {
		lastRequest = formatClock(*state.LastRequestAt, opts.Now)
	}
	body = append(body, s.detail.Render("last request: "+lastRequest))

	if state.CooldownActive {
		body = append(body, cooldownLine(status, opts, s))
	}

	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, body...)))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func quotaLine(count int, ceiling int, s styles) string {
	usedPercent := 0.0
	if ceiling > 0 {
		usedPercent = float64(count) / float64(ceiling) * 100
	}
	leftPercent := clampPercent(100 - usedPercent)

	percentStyle := lipgloss.NewStyle().Foreground(interpolateColor(leftPercent, 0, 100))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render("requests:"),
		" ",
		renderProgressBar(usedPercent, 24, s),
		" ",
		s.detail.Render(fmt.Sprintf("%d/%d", count, ceiling)),
		" ",
		percentStyle.Render(fmt.Sprintf("(%2.0f%% left)", leftPercent)),
	)
}

func cooldownLine(status application.ThrottleStatus, opts RenderOptions, s styles) string {
	if status.State.CooldownEndsAt == nil {
		return s.warning.Render("[cooldown] end time unknown")
	}
	if status.Wait <= 0 {
		return s.warning.Render("[cooldown] elapsed, clears on next request")
	}

	return s.warning.Render(fmt.Sprintf(
		"[cooldown] resumes in %s (%s)",
		status.Wait.Round(time.Second),
		formatClock(*status.State.CooldownEndsAt, opts.Now),
	))
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	leftFraction := (100.0 - used) / 100.0
	filled := int(math.Round(float64(width) * leftFraction))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", empty))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatClock(at, now time.Time) string {
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	at = at.In(now.Location())
	yearA, monthA, dayA := now.Date()
	yearB, monthB, dayB := at.Date()
	if yearA == yearB && monthA == monthB && dayA == dayB {
		return at.Format("15:04:05")
	}

	return at.Format("15:04:05 on 02 Jan")
}

func formatResetRelative(resetsAt, now time.Time) string {
	if now.IsZero() {
		return "resets " + resetsAt.Format(time.RFC3339)
	}

	if !resetsAt.After(now) {
		return "expired"
	}

	remaining := resetsAt.Sub(now)
	if remaining < time.Minute {
		return fmt.Sprintf("resets in %ds", int(math.Ceil(remaining.Seconds())))
	}

	minutes := int(math.Ceil(remaining.Minutes()))
	suffix := "minutes"
	if minutes == 1 {
		suffix = "minute"
	}

	return fmt.Sprintf("resets in %d %s", minutes, suffix)
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// 240 (faded) at min, 255 (bright) at max on the ANSI greyscale ramp.
	interpolated := 240.0 + 15.0*normalized
	return lipgloss.Color(fmt.Sprintf("%d", int(interpolated)))
}
