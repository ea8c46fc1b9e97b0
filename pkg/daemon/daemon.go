package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/battery"
	"github.com/charlie0129/chgd/pkg/cisd"
	"github.com/charlie0129/chgd/pkg/config"
	"github.com/charlie0129/chgd/pkg/events"
	"github.com/charlie0129/chgd/pkg/types"
)

// Daemon owns the battery state machine and serializes every change to it
// through the monitor loop.
type Daemon struct {
	conf     *config.File
	adapters *adapters
	bat      *battery.Battery
	ledger   *cisd.Ledger
	store    *cisd.Store
	hub      *events.EventHub

	requests chan request
	recorder *TimeSeriesRecorder
	jobs     []*Job

	lastPrintTime time.Time
	lastStatus    loopStatus
}

// New opens the adapters selected by the config and restores the ledger.
func New(conf *config.File) (*Daemon, error) {
	a, err := openAdapters(conf)
	if err != nil {
		return nil, err
	}
	return newDaemon(conf, a), nil
}

func newDaemon(conf *config.File, a *adapters) *Daemon {
	ledger := cisd.New(conf.CISDAlgIndex())
	store := cisd.NewStore(conf.LedgerPath())
	if err := store.Load(ledger); err != nil {
		logrus.WithError(err).Warn("failed to restore cisd ledger")
	}

	hub := events.NewEventHub()

	d := &Daemon{
		conf:     conf,
		adapters: a,
		ledger:   ledger,
		store:    store,
		hub:      hub,
		requests: make(chan request, 8),
		recorder: NewTimeSeriesRecorder(60),
	}
	d.bat = battery.New(conf, ledger, a.gauge, a.charger, hubReporter{hub: hub}, battery.WithPublisher(hub))

	return d
}

func (d *Daemon) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", d.getStatus)
	router.GET("/loops", d.getLoops)
	router.GET("/config", d.getConfig)
	router.GET("/version", getVersion)
	router.GET("/events", d.streamEvents)

	router.PUT("/cable", d.setCable)
	router.DELETE("/cable", d.detachCable)
	router.PUT("/pad", d.setPad)
	router.PUT("/siop", d.setSIOP)
	router.POST("/session", d.newSession)

	cg := router.Group("/cisd")
	cg.DELETE("", d.resetCISD)
	cg.GET("/data", d.getCISDData)
	cg.PUT("/data", d.setCISDData)
	cg.GET("/data.json", d.getCISDDataJSON)
	cg.GET("/data-d.json", d.getCISDPerDayJSON)
	cg.GET("/field/:name", d.getCISDField)
	cg.GET("/wc", d.getCISDPads)
	cg.PUT("/wc", d.setCISDPads)
	cg.GET("/power", d.getCISDPower)
	cg.PUT("/power", d.setCISDPower)
	cg.GET("/cable", d.getCISDCable)
	cg.GET("/tx", d.getCISDTX)
	cg.PUT("/tx", d.countCISDTX)
	cg.GET("/event", d.getCISDEvent)
	cg.PUT("/event", d.countCISDEvent)

	return router
}

// persist writes the ledger to its store, logging failures.
func (d *Daemon) persist() error {
	err := d.store.Save(d.ledger)
	if err != nil {
		logrus.WithError(err).Error("failed to persist cisd ledger")
	}
	return err
}

// Close persists the ledger, stops charging and releases the adapters.
func (d *Daemon) Close(ctx context.Context) error {
	var errs []error

	if err := d.persist(); err != nil {
		errs = append(errs, err)
	}

	if err := d.adapters.charger.SetChargeMode(ctx, types.ChargeModeChargingOff); err != nil {
		logrus.Errorf("failed to stop charging before exiting: %v", err)
		errs = append(errs, err)
	}

	if err := d.adapters.Close(); err != nil {
		logrus.Errorf("failed to close adapters: %v", err)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

type hubReporter struct {
	hub *events.EventHub
}

func (r hubReporter) ReportAbnormal(tag string) {
	r.hub.Publish(events.Abnormal, events.AbnormalEvent{Tag: tag, Ts: time.Now().Unix()})
}

// applyLedgerPath overrides the configured ledger location. The ledger store
// is opened once, so a reload must not move it.
func applyLedgerPath(conf *config.File, path string) {
	if path == "" {
		return
	}
	conf.SetLedgerPath(path)
	logrus.WithField("ledgerPath", path).Info("using ledger path from the command line")
}

func Run(configPath string, unixSocketPath string, ledgerPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	applyLedgerPath(conf, ledgerPath)
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	d, err := New(conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to start daemon")
	}

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			notify(sddaemon.SdNotifyReloading)
			err := conf.Load()
			notify(sddaemon.SdNotifyReady)
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			applyLedgerPath(conf, ledgerPath)
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler: d.setupRoutes(),
	}

	// A previous instance that was killed leaves its socket behind.
	if fi, err := os.Lstat(unixSocketPath); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(unixSocketPath)
	}

	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	if err := d.startJobs(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		logrus.Debugln("monitor loop starts")
		d.loop(ctx)
		logrus.Debugln("monitor loop stopped")
	}()

	notify(sddaemon.SdNotifyReady)

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)
	notify(sddaemon.SdNotifyStopping)

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}

	cancel()
	<-loopDone
	d.stopJobs()

	if err := d.Close(shutdownCtx); err != nil {
		logrus.Errorf("failed to clean up before exiting: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
