package playback

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	devicePollInterval = 2 * time.Second
	deviceChangeSettle = 250 * time.Millisecond
)

// DeviceEnumerator lists the audio output devices currently available.
type DeviceEnumerator interface {
	OutputDevices() ([]string, error)
}

// DeviceMonitor polls the output-device set and reacts to changes: first a
// cheap sink refresh, then a debounced full remount of the element. Changes
// are ignored while nothing is actively playing.
type DeviceMonitor struct {
	enum       DeviceEnumerator
	controller *Controller

	pollInterval time.Duration
	settle       time.Duration

	mu        sync.Mutex
	signature string
	remount   *time.Timer
	stop      chan struct{}
}

func NewDeviceMonitor(enum DeviceEnumerator, controller *Controller) *DeviceMonitor {
	return &DeviceMonitor{
		enum:         enum,
		controller:   controller,
		pollInterval: devicePollInterval,
		settle:       deviceChangeSettle,
	}
}

// Start begins polling. Safe to call once; Stop ends it.
func (m *DeviceMonitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stop = stop
	m.signature = m.snapshot()
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
}

func (m *DeviceMonitor) Stop() {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	if m.remount != nil {
		m.remount.Stop()
		m.remount = nil
	}
	m.mu.Unlock()
}

// snapshot produces an order-independent signature of the device set.
func (m *DeviceMonitor) snapshot() string {
	devices, err := m.enum.OutputDevices()
	if err != nil {
		log.Debug().Err(err).Msg("Output device enumeration failed")
		return ""
	}
	sorted := append([]string(nil), devices...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

func (m *DeviceMonitor) poll() {
	sig := m.snapshot()

	m.mu.Lock()
	changed := sig != m.signature
	m.signature = sig
	m.mu.Unlock()

	if !changed {
		return
	}

	state := m.controller.State()
	active := state == StatePlaying || state == StateBuffering || state == StateStalled
	if !active {
		log.Debug().Msg("Output devices changed while idle, no action")
		return
	}

	log.Info().Msg("Output devices changed, refreshing audio output")
	m.controller.RefreshOutputDevice()

	m.mu.Lock()
	if m.remount != nil {
		m.remount.Stop()
	}
	m.remount = time.AfterFunc(m.settle, m.controller.Remount)
	m.mu.Unlock()
}
