package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/ruteri/keybox-sentinel/interfaces"
)

// ErrConstraintsUnmet is returned by a ConditionProbe when a job may not run yet.
var ErrConstraintsUnmet = errors.New("constraints not met")

// ConditionProbe tells the scheduler whether a job's constraints currently hold.
type ConditionProbe interface {
	Check(ctx context.Context, c interfaces.Constraints) error
}

// HostState is a snapshot of the conditions constraints are evaluated against.
type HostState struct {
	Connected  bool
	Metered    bool
	Roaming    bool
	Charging   bool
	Idle       bool
	BatteryLow bool
}

// Satisfies reports nil if every constraint in c holds in s, or an error listing
// the unmet ones wrapped in ErrConstraintsUnmet.
func (s HostState) Satisfies(c interfaces.Constraints) error {
	var unmet []string

	if !s.Connected {
		unmet = append(unmet, "network")
	} else {
		switch c.Network {
		case interfaces.NetworkUnmetered:
			if s.Metered {
				unmet = append(unmet, "unmetered network")
			}
		case interfaces.NetworkNotRoaming:
			if s.Roaming {
				unmet = append(unmet, "non-roaming network")
			}
		case interfaces.NetworkMetered:
			if !s.Metered {
				unmet = append(unmet, "metered network")
			}
		}
	}
	if c.RequireCharging && !s.Charging {
		unmet = append(unmet, "charging")
	}
	if c.RequireIdle && !s.Idle {
		unmet = append(unmet, "idle")
	}
	if c.RequireBatteryNotLow && s.BatteryLow {
		unmet = append(unmet, "battery not low")
	}

	if len(unmet) > 0 {
		return fmt.Errorf("%w: %s", ErrConstraintsUnmet, strings.Join(unmet, ", "))
	}
	return nil
}

// StaticProbe evaluates constraints against a fixed host state.
type StaticProbe struct {
	State HostState
}

func (p StaticProbe) Check(ctx context.Context, c interfaces.Constraints) error {
	return p.State.Satisfies(c)
}

// AlwaysConnected is a probe for hosts where every constraint is assumed to hold.
var AlwaysConnected = StaticProbe{State: HostState{Connected: true, Charging: true, Idle: true}}

// HostProbe observes a Linux host.
//
// Connectivity is a DNS lookup of Host through Resolver. Charging and battery
// level come from the power_supply class in sysfs; a host without a battery
// counts as charging with a full battery. Idle compares the one-minute load
// average per CPU with IdleLoad.
//
// A generic host cannot tell metered or roaming links apart, so a connected
// host meets every network class.
type HostProbe struct {
	Host              string
	Resolver          string
	PowerSupplyDir    string
	LoadAvgPath       string
	IdleLoad          float64
	LowBatteryPercent int
	Timeout           time.Duration
}

// NewHostProbe returns a probe resolving host with the first nameserver from
// /etc/resolv.conf.
func NewHostProbe(host string) *HostProbe {
	resolver := "127.0.0.53:53"
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		resolver = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}

	return &HostProbe{
		Host:              host,
		Resolver:          resolver,
		PowerSupplyDir:    "/sys/class/power_supply",
		LoadAvgPath:       "/proc/loadavg",
		IdleLoad:          0.3,
		LowBatteryPercent: 15,
		Timeout:           5 * time.Second,
	}
}

func (p *HostProbe) Check(ctx context.Context, c interfaces.Constraints) error {
	state := HostState{Connected: p.connected(ctx)}
	state.Metered = state.Connected && c.Network == interfaces.NetworkMetered
	if c.RequireCharging || c.RequireBatteryNotLow {
		state.Charging, state.BatteryLow = p.power()
	}
	if c.RequireIdle {
		state.Idle = p.idle()
	}
	return state.Satisfies(c)
}

func (p *HostProbe) connected(ctx context.Context) bool {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(p.Host), dns.TypeA)
	m.RecursionDesired = true

	client := &dns.Client{Timeout: p.Timeout}
	r, _, err := client.ExchangeContext(ctx, m, p.Resolver)
	if err != nil || r == nil {
		return false
	}
	return r.Rcode == dns.RcodeSuccess && len(r.Answer) > 0
}

func (p *HostProbe) power() (charging bool, batteryLow bool) {
	entries, err := os.ReadDir(p.PowerSupplyDir)
	if err != nil {
		return true, false
	}

	hasBattery, onMains := false, false
	for _, entry := range entries {
		dir := filepath.Join(p.PowerSupplyDir, entry.Name())
		switch readTrimmed(filepath.Join(dir, "type")) {
		case "Mains", "USB":
			if readTrimmed(filepath.Join(dir, "online")) == "1" {
				onMains = true
			}
		case "Battery":
			hasBattery = true
			switch readTrimmed(filepath.Join(dir, "status")) {
			case "Charging", "Full":
				charging = true
			}
			if capacity, err := strconv.Atoi(readTrimmed(filepath.Join(dir, "capacity"))); err == nil && capacity < p.LowBatteryPercent {
				batteryLow = true
			}
		}
	}

	if !hasBattery {
		return true, false
	}
	return charging || onMains, batteryLow
}

func (p *HostProbe) idle() bool {
	fields := strings.Fields(readTrimmed(p.LoadAvgPath))
	if len(fields) == 0 {
		return false
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return false
	}
	return load/float64(runtime.NumCPU()) < p.IdleLoad
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
