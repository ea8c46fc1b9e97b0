package daemon

import (
	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"
)

// notify tells systemd about a lifecycle change. It does nothing when the
// daemon was not started by a Type=notify unit.
func notify(state string) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		logrus.WithError(err).WithField("state", state).Warn("failed to notify systemd")
		return
	}
	if sent {
		logrus.WithField("state", state).Trace("notified systemd")
	}
}
