package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	preCheckMaxTimes = 30
	preCheckInterval = time.Second * 10
)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Job runs a task on a cron schedule. A failing precheck is retried every
// preCheckInterval, at most preCheckMaxTimes times, before the run is given
// up and the job waits for the next one.
type Job struct {
	Name     string
	Task     TaskFunc // task callback
	PreCheck TaskFunc // condition check callback, may be nil

	schedule cron.Schedule
	nextRun  time.Time

	preCheckInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewJob parses cronExpr and returns a stopped job.
func NewJob(name, cronExpr string, task, preCheck TaskFunc) (*Job, error) {
	if task == nil {
		panic("task function cannot be nil")
	}

	sh, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	return &Job{
		Name:             name,
		Task:             task,
		PreCheck:         preCheck,
		schedule:         sh,
		nextRun:          sh.Next(time.Now()),
		preCheckInterval: preCheckInterval,
		stopCh:           make(chan struct{}),
	}, nil
}

func (j *Job) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	go j.run()
}

func (j *Job) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	select {
	case <-j.stopCh: // already closed
	default:
		close(j.stopCh)
	}
}

func (j *Job) Status() (nextRun time.Time, running bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.nextRun, j.running
}

func (j *Job) run() {
	log := logrus.WithField("job", j.Name)

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
		log.Debug("job stopped")
	}()

	log.Debug("job started")

	for {
		j.mu.Lock()
		nextRun := j.nextRun
		j.mu.Unlock()

		timer := time.NewTimer(max(time.Until(nextRun), 0))

		attempts := 0
		var precheckErr error

	wait:
		for {
			select {
			case <-timer.C:
				if j.PreCheck != nil {
					if err := j.PreCheck(); err != nil {
						if precheckErr == nil || err.Error() != precheckErr.Error() {
							precheckErr = err
							log.Warnf("precheck failed: %v", err)
						}

						attempts++
						if attempts <= preCheckMaxTimes {
							log.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, preCheckMaxTimes, err, j.preCheckInterval)
							timer.Reset(j.preCheckInterval)
							continue
						}

						log.Errorf("precheck kept failing, skipping the run at %s", nextRun.Format(time.DateTime))
						break wait
					}
				}

				log.Debugf("running scheduled task at %s", nextRun.Format(time.DateTime))
				if err := j.Task(); err != nil {
					log.Errorf("task failed: %v", err)
				}
				break wait
			case <-j.stopCh:
				timer.Stop()
				return
			}
		}

		j.mu.Lock()
		// Computed from now, so runs missed while suspended are not replayed.
		j.nextRun = j.schedule.Next(time.Now())
		j.mu.Unlock()
	}
}

// rollover persists the day's ledger, then starts a new day.
func (d *Daemon) rollover() error {
	if err := d.persist(); err != nil {
		return err
	}

	d.ledger.ClearDailyCounters()
	d.ledger.ResetPerDay()
	logrus.Info("cisd per-day statistics rolled over")

	return d.persist()
}

func (d *Daemon) ledgerDirReady() error {
	return os.MkdirAll(filepath.Dir(d.store.Path()), 0755)
}

func (d *Daemon) startJobs() error {
	rollover, err := NewJob("cisd-rollover", "@daily", d.rollover, nil)
	if err != nil {
		return err
	}
	flush, err := NewJob("cisd-flush", "@every 10m", d.persist, d.ledgerDirReady)
	if err != nil {
		return err
	}

	d.jobs = []*Job{rollover, flush}
	for _, j := range d.jobs {
		j.Start()
		next, _ := j.Status()
		logrus.WithFields(logrus.Fields{
			"job":     j.Name,
			"nextRun": next.Format(time.RFC3339),
		}).Debug("job scheduled")
	}
	return nil
}

func (d *Daemon) stopJobs() {
	for _, j := range d.jobs {
		j.Stop()
	}
}
