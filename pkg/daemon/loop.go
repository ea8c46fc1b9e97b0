package daemon

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/arbiter"
	"github.com/charlie0129/chgd/pkg/battery"
	"github.com/charlie0129/chgd/pkg/types"
)

// continuousLoopCount is how many consecutive monitor loops the missed loop
// check looks back over.
const continuousLoopCount = 8

// TimeSeriesRecorder records the last N monitor loop times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	LastLoopTimes  []time.Time
	mu             *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		LastLoopTimes:  make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecordNow adds a new record with the current time.
func (r *TimeSeriesRecorder) AddRecordNow() {
	r.AddRecord(time.Now())
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading, so time.Since stays accurate across
	// system suspend.
	t = t.Round(0)

	if len(r.LastLoopTimes) >= r.MaxRecordCount {
		r.LastLoopTimes = r.LastLoopTimes[1:]
	}
	r.LastLoopTimes = append(r.LastLoopTimes, t)
}

// ClearRecords clears all records.
func (r *TimeSeriesRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastLoopTimes = make([]time.Time, 0)
}

// GetRecords returns a copy of the records.
func (r *TimeSeriesRecorder) GetRecords() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Time(nil), r.LastLoopTimes...)
}

// GetRecordsString returns the records in RFC 3339 format.
func (r *TimeSeriesRecorder) GetRecordsString() []string {
	return formatTimes(r.GetRecords())
}

// GetRecordsIn returns the number of continuous records in the last
// duration. Two adjacent records are continuous when they are less than
// interval+1s apart.
func (r *TimeSeriesRecorder) GetRecordsIn(last, interval time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	gap := interval + time.Second

	// The last record must be within the last interval.
	if len(r.LastLoopTimes) > 0 && time.Since(r.LastLoopTimes[len(r.LastLoopTimes)-1]) >= gap {
		return 0
	}

	count := 0
	for i := len(r.LastLoopTimes) - 1; i >= 0; i-- {
		record := r.LastLoopTimes[i]
		if time.Since(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.LastLoopTimes) {
			theRecordAfter = r.LastLoopTimes[i+1]
		}

		if theRecordAfter.Sub(record) >= gap {
			break
		}
		count++
	}

	return count
}

// GetLastRecords returns the records in the last duration, newest first.
func (r *TimeSeriesRecorder) GetLastRecords(last time.Duration) []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.LastLoopTimes) == 0 {
		return nil
	}

	var records []time.Time
	for i := len(r.LastLoopTimes) - 1; i >= 0; i-- {
		record := r.LastLoopTimes[i]
		if time.Since(record) > last {
			break
		}
		records = append(records, record)
	}

	return records
}

// GetLastRecord returns the last record.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.LastLoopTimes) == 0 {
		return time.Time{}
	}

	return r.LastLoopTimes[len(r.LastLoopTimes)-1]
}

func formatTimes(times []time.Time) []string {
	var timesString []string
	for _, t := range times {
		timesString = append(timesString, t.Format(time.RFC3339))
	}
	return timesString
}

func formatRelativeTimes(times []time.Time) []string {
	var timesString []string
	for _, t := range times {
		timesString = append(timesString, time.Since(t).String())
	}
	return timesString
}

// request is a change to the battery applied by the monitor loop.
type request struct {
	apply func(ctx context.Context) error
	done  chan error
}

// submit hands fn to the monitor loop and waits for its result.
func (d *Daemon) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	req := request{apply: fn, done: make(chan error, 1)}

	select {
	case d.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop runs monitor cycles and applies submitted requests until ctx is
// done. It is the only goroutine that drives the battery.
func (d *Daemon) loop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			req.done <- req.apply(ctx)
		case <-timer.C:
			d.maintain(ctx)
			timer.Reset(d.bat.PollingInterval())
		}
	}
}

// maintain runs one monitor cycle.
func (d *Daemon) maintain(ctx context.Context) bool {
	d.checkMissedLoops()
	d.recorder.AddRecordNow()

	err := d.bat.Monitor(ctx)
	d.printStatus(d.bat.State())
	if err != nil {
		logrus.Errorf("monitor cycle failed: %v", err)
		return false
	}
	return true
}

func (d *Daemon) checkMissedLoops() bool {
	if d.recorder.GetLastRecord().IsZero() {
		return false
	}

	interval := d.bat.PollingInterval()
	threshold := interval * continuousLoopCount
	loopCount := d.recorder.GetRecordsIn(threshold, interval)
	minLoopCount := continuousLoopCount - 1
	relativeTimes := d.recorder.GetLastRecords(threshold)

	if loopCount < minLoopCount && len(d.recorder.GetRecords()) >= continuousLoopCount {
		logrus.WithFields(logrus.Fields{
			"loopCount":         loopCount,
			"expectedLoopCount": continuousLoopCount,
			"minLoopCount":      minLoopCount,
			"recentRecords":     formatRelativeTimes(relativeTimes),
		}).Infof("Possibly missed monitor loop")
		return true
	}
	return false
}

type loopStatus struct {
	status     types.Status
	health     types.Health
	chargeMode types.ChargeMode
	swelling   types.SwellingMode
	cable      types.CableType
	capacity   int
	currents   arbiter.Currents
}

func (d *Daemon) printStatus(s battery.State) {
	currentStatus := loopStatus{
		status:     s.Status,
		health:     s.Health,
		chargeMode: s.ChargeMode,
		swelling:   s.Swelling,
		cable:      s.Cable.CableType,
		capacity:   s.Telemetry.Capacity,
		currents:   s.Currents,
	}

	fields := logrus.Fields{
		"status":      s.Status,
		"health":      s.Health,
		"chargeMode":  s.ChargeMode,
		"swelling":    s.Swelling,
		"cable":       s.Cable.CableType,
		"capacity":    s.Telemetry.Capacity,
		"voltageNow":  s.Telemetry.VoltageNow,
		"currentNow":  s.Telemetry.CurrentNow,
		"temperature": s.Telemetry.Temperature,
		"input":       s.Currents.InputCurrentLimit,
		"charging":    s.Currents.FastChargingCurrent,
	}

	interval := d.bat.PollingInterval()
	defer func() { d.lastPrintTime = time.Now() }()

	// Skip printing if the last print was less than one interval ago and everything is the same.
	if time.Since(d.lastPrintTime) < interval+time.Second && reflect.DeepEqual(d.lastStatus, currentStatus) {
		logrus.WithFields(fields).Trace("monitor loop status")
		return
	}

	logrus.WithFields(fields).Debug("monitor loop status")

	d.lastStatus = currentStatus
}
