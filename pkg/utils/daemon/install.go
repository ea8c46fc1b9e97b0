package daemon

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const unitName = "chgd.service"

var (
	unitDir  = "/etc/systemd/system"
	unitPath = filepath.Join(unitDir, unitName)

	//go:embed chgd.service
	unitTemplate string
)

// Unit renders the systemd unit for the executable at exePath. Extra daemon
// arguments are appended to ExecStart.
func Unit(exePath string, args ...string) string {
	execStart := strings.Join(append([]string{exePath, "daemon"}, args...), " ")
	return strings.ReplaceAll(unitTemplate, "/path/to/chgd daemon", execStart)
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Install writes the systemd unit for the current executable, then enables
// and starts it.
func Install(args ...string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)
	logrus.Infof("writing systemd unit to %s", unitPath)

	err = os.MkdirAll(unitDir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", unitDir, err)
	}

	// warn if the file already exists
	if _, err := os.Stat(unitPath); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	err = os.WriteFile(unitPath, []byte(Unit(exePath, args...)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	logrus.Infof("starting chgd")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}
