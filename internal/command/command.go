// Package command parses operator text commands and applies them to the
// fleet. Replies are plain text; failures are prefixed with "err: ".
package command

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/afkfleet/internal/fleet"
	"github.com/yegors/afkfleet/internal/session"
	"github.com/yegors/afkfleet/pkg/logger"
)

// quoted arguments keep their spaces: say 1 "hello there"
var reArg = regexp.MustCompile(`"([^"]*)"|(\S+)`)

var errUsage = errors.New("usage")

const helpText = `commands:
  status [slot|all]
  stats <slot>
  start|stop|restart|pause|resume <slot|all>
  protection <slot> [on|off]
  say <slot|all> <text...>
  move <slot> <forward|back|left|right> <blocks>
  drop <slot> <item|all> [count]`

// Dispatcher executes commands against a fleet
type Dispatcher struct {
	fleet  *fleet.Fleet
	logger *logger.Logger
	now    func() time.Time
}

func NewDispatcher(f *fleet.Fleet, log *logger.Logger) *Dispatcher {
	return &Dispatcher{fleet: f, logger: log.Named("command"), now: time.Now}
}

// Execute runs one command line and returns the reply
func (d *Dispatcher) Execute(ctx context.Context, line string) string {
	if err := ctx.Err(); err != nil {
		return "err: " + err.Error()
	}
	args := splitArgs(line)
	if len(args) == 0 {
		return "err: empty command, try help"
	}
	name := strings.ToLower(args[0])
	args = args[1:]

	d.logger.Debug("Executing command",
		logger.String("command", name),
		logger.Int("args", len(args)))

	reply, err := d.run(name, args)
	if errors.Is(err, errUsage) {
		return "err: " + usage(name)
	}
	if err != nil {
		return "err: " + err.Error()
	}
	return reply
}

func (d *Dispatcher) run(name string, args []string) (string, error) {
	switch name {
	case "help", "?":
		return helpText, nil

	case "status":
		target := "all"
		if len(args) > 0 {
			target = args[0]
		}
		sups, err := d.targets(target)
		if err != nil {
			return "", err
		}
		lines := make([]string, 0, len(sups)+1)
		if target == "all" {
			lines = append(lines, summaryLine(d.fleet.Summary()))
		}
		for _, sup := range sups {
			lines = append(lines, statusLine(sup.Status()))
		}
		return strings.Join(lines, "\n"), nil

	case "stats":
		if len(args) != 1 {
			return "", errUsage
		}
		sup, err := d.slot(args[0])
		if err != nil {
			return "", err
		}
		return statsLine(sup.Slot(), sup.Identity(), sup.Stats(), d.now()), nil

	case "start", "stop", "restart", "pause", "resume":
		if len(args) != 1 {
			return "", errUsage
		}
		sups, err := d.targets(args[0])
		if err != nil {
			return "", err
		}
		return d.each(sups, func(sup *session.Supervisor) session.Result {
			switch name {
			case "start":
				return sup.Start()
			case "stop":
				return sup.Stop()
			case "restart":
				return sup.Restart()
			case "pause":
				return sup.Pause()
			default:
				return sup.Resume()
			}
		}), nil

	case "protection":
		if len(args) < 1 || len(args) > 2 {
			return "", errUsage
		}
		sup, err := d.slot(args[0])
		if err != nil {
			return "", err
		}
		var explicit *bool
		if len(args) == 2 {
			v, err := parseOnOff(args[1])
			if err != nil {
				return "", err
			}
			explicit = &v
		}
		return resultLine(sup.ToggleProtection(explicit)), nil

	case "say":
		if len(args) < 2 {
			return "", errUsage
		}
		sups, err := d.targets(args[0])
		if err != nil {
			return "", err
		}
		text := strings.Join(args[1:], " ")
		return d.each(sups, func(sup *session.Supervisor) session.Result {
			return sup.SendChat(text)
		}), nil

	case "move":
		if len(args) != 3 {
			return "", errUsage
		}
		sup, err := d.slot(args[0])
		if err != nil {
			return "", err
		}
		dist, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return "", fmt.Errorf("invalid distance %q", args[2])
		}
		return resultLine(sup.Move(args[1], dist)), nil

	case "drop":
		if len(args) < 2 || len(args) > 3 {
			return "", errUsage
		}
		sup, err := d.slot(args[0])
		if err != nil {
			return "", err
		}
		count := 0
		if len(args) == 3 {
			count, err = strconv.Atoi(args[2])
			if err != nil || count <= 0 {
				return "", fmt.Errorf("invalid count %q", args[2])
			}
		}
		return resultLine(sup.DropItem(args[1], count)), nil
	}

	return "", fmt.Errorf("unknown command %q, try help", name)
}

func (d *Dispatcher) slot(arg string) (*session.Supervisor, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid slot %q", arg)
	}
	return d.fleet.Get(n)
}

func (d *Dispatcher) targets(arg string) ([]*session.Supervisor, error) {
	if strings.EqualFold(arg, "all") {
		sups := d.fleet.Slots()
		if len(sups) == 0 {
			return nil, errors.New("no slots configured")
		}
		return sups, nil
	}
	sup, err := d.slot(arg)
	if err != nil {
		return nil, err
	}
	return []*session.Supervisor{sup}, nil
}

func (d *Dispatcher) each(sups []*session.Supervisor, fn func(*session.Supervisor) session.Result) string {
	lines := make([]string, 0, len(sups))
	for _, sup := range sups {
		lines = append(lines, resultLine(fn(sup)))
	}
	return strings.Join(lines, "\n")
}

func splitArgs(s string) []string {
	var out []string
	for _, m := range reArg.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			out = append(out, m[1])
		} else if m[2] != "" {
			out = append(out, m[2])
		}
	}
	return out
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "enable", "1":
		return true, nil
	case "off", "false", "disable", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func usage(name string) string {
	for _, line := range strings.Split(helpText, "\n")[1:] {
		line = strings.TrimSpace(line)
		head := strings.SplitN(line, " ", 2)[0]
		for _, alt := range strings.Split(head, "|") {
			if alt == name {
				return "usage: " + strings.Replace(line, head, name, 1)
			}
		}
	}
	return "bad arguments, try help"
}
