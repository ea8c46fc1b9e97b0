package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/cisd"
	"github.com/charlie0129/chgd/pkg/types"
	"github.com/charlie0129/chgd/pkg/version"
)

func abortWithError(c *gin.Context, status int, err error) {
	c.IndentedJSON(status, err.Error())
	_ = c.AbortWithError(status, err)
}

// writeMembers wraps comma separated JSON members into an object.
func writeMembers(c *gin.Context, members string) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte("{"+members+"}"))
}

func wantJSON(c *gin.Context) bool {
	return c.Query("format") == "json"
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func (d *Daemon) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.bat.State())
}

func (d *Daemon) getLoops(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.recorder.GetRecordsString())
}

func (d *Daemon) getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.conf.Raw())
}

func (d *Daemon) setCable(c *gin.Context) {
	var info types.CableInfo
	if err := c.BindJSON(&info); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := info.Validate(); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	err := d.submit(c.Request.Context(), func(ctx context.Context) error {
		return d.bat.OnCableChanged(ctx, info)
	})
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("cable %s attached, status: %s", info.CableType, d.bat.State().Status))
}

func (d *Daemon) detachCable(c *gin.Context) {
	wireless := false
	if s := c.Query("wireless"); s != "" {
		var err error
		wireless, err = strconv.ParseBool(s)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
	}

	err := d.submit(c.Request.Context(), func(ctx context.Context) error {
		return d.bat.OnDetach(ctx, wireless)
	})
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusOK, fmt.Sprintf("cable detached, status: %s", d.bat.State().Status))
}

func (d *Daemon) setPad(c *gin.Context) {
	var id int
	if err := c.BindJSON(&id); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := d.bat.OnPadAuthenticated(id); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	logrus.WithField("pad", fmt.Sprintf("0x%02x", id)).Info("wireless pad authenticated")
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("counted pad 0x%02x", id))
}

func (d *Daemon) setSIOP(c *gin.Context) {
	var level int
	if err := c.BindJSON(&level); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if level < 0 || level > 100 {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("siop level must be between 0 and 100, got %d", level))
		return
	}

	err := d.submit(c.Request.Context(), func(ctx context.Context) error {
		return d.bat.SetSIOPLevel(ctx, level)
	})
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set siop level to %d%%", level))
}

func (d *Daemon) newSession(c *gin.Context) {
	err := d.submit(c.Request.Context(), d.bat.BeginNewChargeSession)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, d.bat.State().SessionID)
}

func (d *Daemon) streamEvents(c *gin.Context) {
	// ?event=battery.cable&event=battery.status narrows the stream.
	ch := d.hub.Subscribe(c.QueryArray("event")...)
	defer d.hub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, json.RawMessage(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (d *Daemon) getCISDData(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.ledger.DataText())
}

func (d *Daemon) getCISDDataJSON(c *gin.Context) {
	writeMembers(c, d.ledger.DataJSON())
}

func (d *Daemon) getCISDPerDayJSON(c *gin.Context) {
	writeMembers(c, d.ledger.PerDayJSON())
}

// getCISDField reads a single data array slot by its exported name, e.g.
// VBAT_OVP or FULL_CNT_D.
func (d *Daemon) getCISDField(c *gin.Context) {
	name := strings.ToUpper(c.Param("name"))
	field, ok := cisd.ParseField(name)
	if !ok {
		abortWithError(c, http.StatusNotFound, fmt.Errorf("unknown cisd field %q", name))
		return
	}

	v, err := d.ledger.Value(field)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, v)
}

// restoreSection applies a persisted text encoding sent by the client. The
// section is reset when the text does not parse, and either way the result
// is persisted.
func (d *Daemon) restoreSection(c *gin.Context, name string, restore func(string) error) {
	var text string
	if err := c.BindJSON(&text); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	restoreErr := restore(text)
	_ = d.persist()

	if restoreErr != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("%s was reset: %w", name, restoreErr))
		return
	}

	logrus.WithField("section", name).Info("cisd section restored")
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("%s restored", name))
}

func (d *Daemon) setCISDData(c *gin.Context) {
	d.restoreSection(c, "cisd data", d.ledger.RestoreData)
}

func (d *Daemon) resetCISD(c *gin.Context) {
	d.ledger.Reset()
	if err := d.persist(); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Info("cisd ledger reset")
	c.IndentedJSON(http.StatusOK, "cisd ledger reset")
}

func (d *Daemon) getCISDPads(c *gin.Context) {
	if wantJSON(c) {
		writeMembers(c, d.ledger.PadJSON())
		return
	}
	c.IndentedJSON(http.StatusOK, d.ledger.PadText())
}

func (d *Daemon) setCISDPads(c *gin.Context) {
	d.restoreSection(c, "wireless pad histogram", d.ledger.RestorePads)
}

func (d *Daemon) getCISDPower(c *gin.Context) {
	if wantJSON(c) {
		writeMembers(c, d.ledger.PowerJSON())
		return
	}
	c.IndentedJSON(http.StatusOK, d.ledger.PowerText())
}

func (d *Daemon) setCISDPower(c *gin.Context) {
	d.restoreSection(c, "charger power histogram", d.ledger.RestorePower)
}

func (d *Daemon) getCISDCable(c *gin.Context) {
	if wantJSON(c) {
		writeMembers(c, d.ledger.CableJSON())
		return
	}
	c.IndentedJSON(http.StatusOK, d.ledger.CableText())
}

func (d *Daemon) getCISDTX(c *gin.Context) {
	if wantJSON(c) {
		writeMembers(c, d.ledger.TXJSON())
		return
	}
	c.IndentedJSON(http.StatusOK, d.ledger.TXText())
}

func (d *Daemon) countCISDTX(c *gin.Context) {
	var name string
	if err := c.BindJSON(&name); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	counter, err := cisd.ParseTXCounter(name)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := d.bat.OnTXEvent(counter); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("counted tx event %s", counter))
}

func (d *Daemon) getCISDEvent(c *gin.Context) {
	if wantJSON(c) {
		writeMembers(c, d.ledger.EventJSON())
		return
	}
	c.IndentedJSON(http.StatusOK, d.ledger.EventText())
}

func (d *Daemon) countCISDEvent(c *gin.Context) {
	var name string
	if err := c.BindJSON(&name); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	counter, err := cisd.ParseEventCounter(name)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := d.bat.OnProtocolEvent(counter); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("counted protocol event %s", counter))
}
