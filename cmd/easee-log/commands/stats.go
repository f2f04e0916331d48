package commands

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/nordicopen/pyeasee/pkg/log"
)

// Stats summarises a capture file.
type Stats struct {
	Events int
	Errors int
	First  time.Time
	Last   time.Time

	// Traffic counts events per layer and category, split by direction.
	Traffic map[trafficKey]*[2]int

	Sessions map[string]*SessionStats
	Devices  map[string]*DeviceStats
}

type trafficKey struct {
	layer    log.Layer
	category log.Category
}

// SessionStats describes one hub session.
type SessionStats struct {
	ID     string
	Start  time.Time
	End    time.Time
	Events int

	// Close is the close reason, "normal" for a clean close, or empty if
	// the capture never saw one.
	Close string
}

// DeviceStats counts inbound product updates for one charger.
type DeviceStats struct {
	Updates    int
	Fields     map[int]int
	LastUpdate time.Time
}

func newStats() *Stats {
	return &Stats{
		Traffic:  make(map[trafficKey]*[2]int),
		Sessions: make(map[string]*SessionStats),
		Devices:  make(map[string]*DeviceStats),
	}
}

func (s *Stats) add(event log.Event) {
	ts := event.Timestamp
	s.Events++
	if s.First.IsZero() || ts.Before(s.First) {
		s.First = ts
	}
	if ts.After(s.Last) {
		s.Last = ts
	}
	if event.Error != nil {
		s.Errors++
	}

	key := trafficKey{event.Layer, event.Category}
	counts := s.Traffic[key]
	if counts == nil {
		counts = new([2]int)
		s.Traffic[key] = counts
	}
	counts[event.Direction&1]++

	if id := event.ConnectionID; id != "" {
		sess := s.Sessions[id]
		if sess == nil {
			sess = &SessionStats{ID: id, Start: ts, End: ts}
			s.Sessions[id] = sess
		}
		sess.Events++
		sess.End = maxTime(sess.End, ts)
		if cm := event.ControlMsg; cm != nil && cm.Type == log.ControlMsgClose {
			sess.Close = cmp.Or(cm.Reason, "normal")
		}
	}

	if event.Message == nil || event.Direction != log.DirectionIn {
		return
	}
	for _, e := range event.Message.Events {
		dev := s.Devices[e.DeviceID]
		if dev == nil {
			dev = &DeviceStats{Fields: make(map[int]int)}
			s.Devices[e.DeviceID] = dev
		}
		dev.Updates++
		dev.Fields[e.ID]++
		dev.LastUpdate = maxTime(dev.LastUpdate, ts)
	}
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// RunStats reads the whole capture and prints a summary.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	if err := each(reader, func(event log.Event) error {
		stats.add(event)
		return nil
	}); err != nil {
		return err
	}

	stats.print(w)
	return nil
}

func (s *Stats) print(w io.Writer) {
	if s.Events == 0 {
		fmt.Fprintln(w, "Capture: no events")
		return
	}

	fmt.Fprintf(w, "Capture: %d events, %s .. %s (%s)\n", s.Events,
		s.First.UTC().Format(time.RFC3339), s.Last.UTC().Format(time.RFC3339),
		s.Last.Sub(s.First).Round(time.Second))
	fmt.Fprintf(w, "Errors:  %d\n", s.Errors)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "LAYER\tCATEGORY\tIN\tOUT")
	keys := slices.SortedFunc(maps.Keys(s.Traffic), func(a, b trafficKey) int {
		return cmp.Or(cmp.Compare(a.layer, b.layer), cmp.Compare(a.category, b.category))
	})
	for _, k := range keys {
		c := s.Traffic[k]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", k.layer, k.category, c[log.DirectionIn], c[log.DirectionOut])
	}

	if len(s.Sessions) > 0 {
		sessions := slices.SortedFunc(maps.Values(s.Sessions), func(a, b *SessionStats) int {
			return a.Start.Compare(b.Start)
		})
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "SESSION\tEVENTS\tSPAN\tCLOSE")
		for _, sess := range sessions {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", shortID(sess.ID), sess.Events,
				sess.End.Sub(sess.Start).Round(time.Millisecond), cmp.Or(sess.Close, "-"))
		}
	}

	if len(s.Devices) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "DEVICE\tUPDATES\tFIELDS\tLAST UPDATE")
		for _, id := range slices.Sorted(maps.Keys(s.Devices)) {
			d := s.Devices[id]
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", id, d.Updates, len(d.Fields), d.LastUpdate.UTC().Format(time.RFC3339))
		}
	}
}
