// Package pmic talks to the power management chips around the battery: the
// fuel gauge and the charger IC. Every register transaction goes through a
// Device, which logs it and retries transient failures.
package pmic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCommFailure is returned once a register transaction has failed on every
// attempt.
var ErrCommFailure = errors.New("pmic communication failure")

const (
	// DefaultAttempts is the number of tries of a register transaction.
	DefaultAttempts   = 3
	defaultRetryDelay = 5 * time.Millisecond
)

// Connection is a register-addressed link to a single chip.
type Connection interface {
	// Read fills buf starting at register reg.
	Read(reg byte, buf []byte) error
	// Write stores data starting at register reg.
	Write(reg byte, data []byte) error
	Close() error
}

// Device is a wrapper of Connection.
type Device struct {
	name       string
	conn       Connection
	attempts   int
	retryDelay time.Duration
}

// NewDevice returns a Device named name for logging.
func NewDevice(name string, conn Connection) *Device {
	return &Device{
		name:       name,
		conn:       conn,
		attempts:   DefaultAttempts,
		retryDelay: defaultRetryDelay,
	}
}

// Close closes the connection.
func (d *Device) Close() error {
	return d.conn.Close()
}

// Read reads n bytes starting at reg.
func (d *Device) Read(ctx context.Context, reg byte, n int) ([]byte, error) {
	logrus.WithFields(logrus.Fields{
		"dev": d.name,
		"reg": fmt.Sprintf("0x%02x", reg),
	}).Trace("Trying to read register")

	buf := make([]byte, n)
	err := d.retry(ctx, func() error { return d.conn.Read(reg, buf) })
	if err != nil {
		return nil, fmt.Errorf("%s: read 0x%02x: %w", d.name, reg, err)
	}

	logrus.WithFields(logrus.Fields{
		"dev": d.name,
		"reg": fmt.Sprintf("0x%02x", reg),
		"val": buf,
	}).Trace("Read register succeed")

	return buf, nil
}

// Write writes data starting at reg.
func (d *Device) Write(ctx context.Context, reg byte, data []byte) error {
	logrus.WithFields(logrus.Fields{
		"dev": d.name,
		"reg": fmt.Sprintf("0x%02x", reg),
		"val": data,
	}).Trace("Trying to write register")

	err := d.retry(ctx, func() error { return d.conn.Write(reg, data) })
	if err != nil {
		return fmt.Errorf("%s: write 0x%02x: %w", d.name, reg, err)
	}

	logrus.WithFields(logrus.Fields{
		"dev": d.name,
		"reg": fmt.Sprintf("0x%02x", reg),
		"val": data,
	}).Trace("Write register succeed")

	return nil
}

// ReadWord reads a little-endian 16-bit register.
func (d *Device) ReadWord(ctx context.Context, reg byte) (uint16, error) {
	b, err := d.Read(ctx, reg, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadReg reads an 8-bit register.
func (d *Device) ReadReg(ctx context.Context, reg byte) (byte, error) {
	b, err := d.Read(ctx, reg, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteReg writes an 8-bit register.
func (d *Device) WriteReg(ctx context.Context, reg, v byte) error {
	return d.Write(ctx, reg, []byte{v})
}

// UpdateBits rewrites the bits of reg selected by mask.
func (d *Device) UpdateBits(ctx context.Context, reg, mask, v byte) error {
	old, err := d.ReadReg(ctx, reg)
	if err != nil {
		return err
	}
	return d.WriteReg(ctx, reg, old&^mask|v&mask)
}

func (d *Device) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		logrus.WithFields(logrus.Fields{
			"dev":     d.name,
			"attempt": attempt,
			"err":     err,
		}).Debug("register transaction failed")

		if attempt == d.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.retryDelay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrCommFailure, d.attempts, err)
}
