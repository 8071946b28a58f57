package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	logindDest  = "org.freedesktop.login1"
	logindPath  = dbus.ObjectPath("/org/freedesktop/login1")
	logindIface = "org.freedesktop.login1.Manager"
)

// Inhibitor mirrors one (ssssuu) entry of logind's ListInhibitors reply.
type Inhibitor struct {
	What string
	Who  string
	Why  string
	Mode string
	UID  uint32
	PID  uint32
}

// InhibitorSource lists the inhibitor locks currently held on the system.
type InhibitorSource interface {
	ListInhibitors(ctx context.Context) ([]Inhibitor, error)
}

// Logind talks to systemd-logind on the system bus. It lists inhibitor locks
// and provides a wake notification channel so the daemon can take a sample
// as soon as the machine resumes.
type Logind struct {
	conn      *dbus.Conn
	done      chan struct{}
	wake      chan struct{}
	log       *slog.Logger
	closeOnce sync.Once
}

// NewLogind connects to the system bus and subscribes to PrepareForSleep.
func NewLogind(logger *slog.Logger) (*Logind, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	err = conn.AddMatchSignal(
		dbus.WithMatchInterface(logindIface),
		dbus.WithMatchMember("PrepareForSleep"),
	)
	if err != nil {
		return nil, fmt.Errorf("match PrepareForSleep: %w", err)
	}

	l := &Logind{
		conn: conn,
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
		log:  logger,
	}
	go l.listen()
	return l, nil
}

// ListInhibitors calls Manager.ListInhibitors.
func (l *Logind) ListInhibitors(ctx context.Context) ([]Inhibitor, error) {
	var inhibitors []Inhibitor
	obj := l.conn.Object(logindDest, logindPath)
	if err := obj.CallWithContext(ctx, logindIface+".ListInhibitors", 0).Store(&inhibitors); err != nil {
		return nil, fmt.Errorf("list inhibitors: %w", err)
	}
	return inhibitors, nil
}

// Wake returns a channel that receives a value each time the system resumes.
func (l *Logind) Wake() <-chan struct{} {
	return l.wake
}

// Close stops the signal listener. The shared system bus stays open.
func (l *Logind) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Logind) listen() {
	ch := make(chan *dbus.Signal, 16)
	l.conn.Signal(ch)
	defer l.conn.RemoveSignal(ch)

	for {
		select {
		case sig := <-ch:
			if sig.Name != logindIface+".PrepareForSleep" || len(sig.Body) < 1 {
				continue
			}
			sleeping, ok := sig.Body[0].(bool)
			if !ok {
				continue
			}
			if sleeping {
				l.log.Info("system going to sleep")
				continue
			}
			l.log.Info("system woke up")
			select {
			case l.wake <- struct{}{}:
			default:
			}
		case <-l.done:
			return
		}
	}
}

// AssertionsFromInhibitors keeps the blocking locks that hold off sleep or
// idle and converts them to power assertions, ordered by pid.
func AssertionsFromInhibitors(inhibitors []Inhibitor) []PowerAssertion {
	var out []PowerAssertion
	for _, inh := range inhibitors {
		if inh.Mode != "block" || !preventsSleep(inh.What) {
			continue
		}
		out = append(out, PowerAssertion{
			PID:     int(inh.PID),
			Process: inh.Who,
			Type:    inh.What,
			Reason:  inh.Why,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func preventsSleep(what string) bool {
	for _, w := range strings.Split(what, ":") {
		switch w {
		case "sleep", "idle", "handle-lid-switch":
			return true
		}
	}
	return false
}
