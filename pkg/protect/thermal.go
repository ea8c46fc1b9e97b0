package protect

import (
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/chgd/pkg/types"
)

type ThermalConfig interface {
	TempCheckCount() int
	TempHighThreshold() int
	TempHighRecovery() int
	TempLowThreshold() int
	TempLowRecovery() int
}

// ThermalMonitor debounces the battery temperature into a health value.
// Entering and leaving a temperature condition both take TempCheckCount
// consecutive samples.
type ThermalMonitor struct {
	conf ThermalConfig

	health        types.Health
	highCount     int
	lowCount      int
	recoveryCount int
}

func NewThermalMonitor(conf ThermalConfig) *ThermalMonitor {
	return &ThermalMonitor{conf: conf, health: types.HealthGood}
}

func (m *ThermalMonitor) Health() types.Health {
	return m.health
}

func (m *ThermalMonitor) Reset() {
	m.health = types.HealthGood
	m.highCount = 0
	m.lowCount = 0
	m.recoveryCount = 0
}

// Check feeds one battery temperature (0.1 C) and returns the resulting
// health and whether it changed.
func (m *ThermalMonitor) Check(temp int) (types.Health, bool) {
	prev := m.health
	n := m.conf.TempCheckCount()

	switch m.health {
	case types.HealthOverheat:
		m.recover(temp <= m.conf.TempHighRecovery(), n)
	case types.HealthCold:
		m.recover(temp >= m.conf.TempLowRecovery(), n)
	default:
		switch {
		case temp >= m.conf.TempHighThreshold():
			m.highCount++
			m.lowCount = 0
			if m.highCount >= n {
				m.enter(types.HealthOverheat)
			}
		case temp <= m.conf.TempLowThreshold():
			m.lowCount++
			m.highCount = 0
			if m.lowCount >= n {
				m.enter(types.HealthCold)
			}
		default:
			m.highCount = 0
			m.lowCount = 0
		}
	}

	if m.health != prev {
		logrus.WithFields(logrus.Fields{
			"temp": temp,
			"from": prev,
			"to":   m.health,
		}).Info("battery temperature health changed")
	}
	return m.health, m.health != prev
}

func (m *ThermalMonitor) enter(h types.Health) {
	m.health = h
	m.highCount = 0
	m.lowCount = 0
	m.recoveryCount = 0
}

func (m *ThermalMonitor) recover(inWindow bool, n int) {
	if !inWindow {
		m.recoveryCount = 0
		return
	}
	m.recoveryCount++
	if m.recoveryCount >= n {
		m.enter(types.HealthGood)
	}
}
