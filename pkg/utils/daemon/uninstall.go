package daemon

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func Uninstall() error {
	logrus.Infof("stopping chgd")

	if err := systemctl("disable", "--now", unitName); err != nil {
		return fmt.Errorf("failed to stop %s: %w. Are you root?", unitName, err)
	}

	logrus.Infof("removing systemd unit")

	// if the file doesn't exist, we don't need to remove it
	_, err := os.Stat(unitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", unitPath, err)
	}

	err = os.Remove(unitPath)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", unitPath, err)
	}

	return systemctl("daemon-reload")
}
