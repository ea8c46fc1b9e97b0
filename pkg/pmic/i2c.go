package pmic

import (
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	pkgerrors "github.com/pkg/errors"
)

// OpenBus initializes the host drivers and opens an I2C bus. An empty name
// opens the first bus found.
func OpenBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to initialize host drivers")
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open i2c bus %q", name)
	}

	return bus, nil
}

// I2CConnection is a Connection to a chip on an I2C bus. Closing it leaves
// the bus open.
type I2CConnection struct {
	dev *i2c.Dev
}

var _ Connection = &I2CConnection{}

// NewI2CConnection returns a connection to the chip at addr.
func NewI2CConnection(bus i2c.Bus, addr uint16) *I2CConnection {
	return &I2CConnection{
		dev: &i2c.Dev{Addr: addr, Bus: bus},
	}
}

func (c *I2CConnection) Read(reg byte, buf []byte) error {
	return c.dev.Tx([]byte{reg}, buf)
}

func (c *I2CConnection) Write(reg byte, data []byte) error {
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	return c.dev.Tx(w, nil)
}

func (c *I2CConnection) Close() error {
	return nil
}

func (c *I2CConnection) String() string {
	return c.dev.String()
}
