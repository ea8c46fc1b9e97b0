package pmic

import (
	"errors"
	"fmt"
	"sync"
)

// errMockInjected is returned by a MockConnection while failures are queued.
var errMockInjected = errors.New("injected bus error")

// MockConnection is an in-memory 256 byte register file.
type MockConnection struct {
	mu       sync.Mutex
	regs     [256]byte
	failures int
	writes   int
}

var _ Connection = &MockConnection{}

// NewMock returns a register file with prefill values.
func NewMock(prefill map[byte][]byte) *MockConnection {
	m := &MockConnection{}
	for reg, v := range prefill {
		if err := m.Write(reg, v); err != nil {
			panic(err)
		}
	}
	m.writes = 0
	return m
}

func (m *MockConnection) Read(reg byte, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return errMockInjected
	}
	if int(reg)+len(buf) > len(m.regs) {
		return fmt.Errorf("read past register 0xff")
	}
	copy(buf, m.regs[reg:])
	return nil
}

func (m *MockConnection) Write(reg byte, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return errMockInjected
	}
	if int(reg)+len(data) > len(m.regs) {
		return fmt.Errorf("write past register 0xff")
	}
	copy(m.regs[reg:], data)
	m.writes++
	return nil
}

func (m *MockConnection) Close() error {
	return nil
}

// FailNext makes the next n transactions fail.
func (m *MockConnection) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures = n
}

// Writes returns the number of successful writes since creation.
func (m *MockConnection) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writes
}

// Reg returns the content of a single register.
func (m *MockConnection) Reg(reg byte) byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.regs[reg]
}

// SetWord stores a little-endian 16-bit value.
func (m *MockConnection) SetWord(reg byte, v uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.regs[reg] = byte(v)
	m.regs[reg+1] = byte(v >> 8)
}
