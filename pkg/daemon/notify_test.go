package daemon

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify(t *testing.T) {
	dir, err := os.MkdirTemp("", "chgd")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	sock := filepath.Join(dir, "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()

	t.Setenv("NOTIFY_SOCKET", sock)
	notify(sddaemon.SdNotifyReady)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "READY=1", string(buf[:n]))
}

func TestNotifyWithoutSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	assert.NotPanics(t, func() { notify(sddaemon.SdNotifyStopping) })
}
