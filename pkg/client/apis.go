package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/chgd/pkg/battery"
	"github.com/charlie0129/chgd/pkg/config"
	"github.com/charlie0129/chgd/pkg/events"
	"github.com/charlie0129/chgd/pkg/types"
)

// CISD sections, by their daemon path.
const (
	SectionData  = "data"
	SectionPads  = "wc"
	SectionPower = "power"
	SectionCable = "cable"
	SectionTX    = "tx"
	SectionEvent = "event"
)

func (c *Client) GetStatus() (*battery.State, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get battery status")
	}

	var st battery.State
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal battery status")
	}
	return &st, nil
}

func (c *Client) GetLoops() ([]string, error) {
	ret, err := c.Get("/loops")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get monitor loops")
	}

	var loops []string
	if err := json.Unmarshal([]byte(ret), &loops); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal monitor loops")
	}
	return loops, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret)
}

func (c *Client) AttachCable(info types.CableInfo) (string, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	return message(c.Put("/cable", string(payload)))
}

func (c *Client) DetachCable(wireless bool) (string, error) {
	return message(c.Delete("/cable?wireless=" + strconv.FormatBool(wireless)))
}

func (c *Client) AuthenticatePad(id int) (string, error) {
	return message(c.Put("/pad", strconv.Itoa(id)))
}

func (c *Client) SetSIOPLevel(level int) (string, error) {
	return message(c.Put("/siop", strconv.Itoa(level)))
}

// NewSession starts a new charge session and returns its id.
func (c *Client) NewSession() (string, error) {
	return message(c.Post("/session", ""))
}

// GetCISD returns a ledger section in its text encoding, or as a JSON object
// when asJSON is set.
func (c *Client) GetCISD(section string, asJSON bool) (string, error) {
	if !asJSON {
		ret, err := c.Get("/cisd/" + section)
		if err != nil {
			return "", pkgerrors.Wrapf(err, "failed to get cisd %s", section)
		}
		return unquote(ret)
	}

	path := "/cisd/" + section + "?format=json"
	if section == SectionData {
		path = "/cisd/data.json"
	}
	ret, err := c.Get(path)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get cisd %s", section)
	}
	return ret, nil
}

// GetCISDField returns one ledger field by its exported name.
func (c *Client) GetCISDField(name string) (int, error) {
	ret, err := c.Get("/cisd/field/" + url.PathEscape(name))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to get cisd field %s", name)
	}

	var v int
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to unmarshal cisd field %s", name)
	}
	return v, nil
}

// GetCISDPerDay returns the per-day section as a JSON object.
func (c *Client) GetCISDPerDay() (string, error) {
	ret, err := c.Get("/cisd/data-d.json")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get per-day cisd data")
	}
	return ret, nil
}

// SetCISD restores a ledger section from its text encoding. Only the data,
// wc and power sections can be restored.
func (c *Client) SetCISD(section, text string) (string, error) {
	payload, err := json.Marshal(text)
	if err != nil {
		return "", err
	}
	return message(c.Put("/cisd/"+section, string(payload)))
}

// CountCISD bumps a named tx or event counter.
func (c *Client) CountCISD(section, name string) (string, error) {
	payload, err := json.Marshal(name)
	if err != nil {
		return "", err
	}
	return message(c.Put("/cisd/"+section, string(payload)))
}

func (c *Client) ResetCISD() (string, error) {
	return message(c.Delete("/cisd"))
}

// WatchEvents streams daemon events to fn until ctx is done, the daemon
// closes the stream or fn returns an error. Only the named events are
// streamed when names is not empty.
func (c *Client) WatchEvents(ctx context.Context, fn func(events.Event) error, names ...string) error {
	path := "/events"
	if len(names) > 0 {
		q := url.Values{"event": names}
		path += "?" + q.Encode()
	}

	resp, err := c.Do(ctx, http.MethodGet, path, "")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to subscribe to events")
	}
	defer resp.Body.Close()

	return readEvents(resp.Body, fn, ctx.Err)
}

func readEvents(r io.Reader, fn func(events.Event) error, done func() error) error {
	sc := bufio.NewScanner(r)
	var ev events.Event
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name == "" && ev.Data == nil {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
			ev = events.Event{}
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data = append(ev.Data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		}
	}

	if done() != nil {
		// Cancelled by the caller.
		return nil
	}
	return sc.Err()
}

// message decodes the JSON string most write endpoints reply with.
func message(ret string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return unquote(ret)
}

func unquote(ret string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(ret), &s); err != nil {
		return "", pkgerrors.Wrapf(err, "unexpected response: %s", ret)
	}
	return s, nil
}
