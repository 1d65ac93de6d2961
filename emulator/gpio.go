package emulator

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Sysfs GPIO backing for embedded Linux targets. Edge detection runs in
// a dedicated polling goroutine well above the sensor line's toggle
// rate (a wheel magnet yields tens of hertz at most), standing in for
// the interrupt context of the hardware platform.

const gpioPollInterval = time.Millisecond

const sysfsGPIOPath = "/sys/class/gpio"

// SysfsPulseInput reads rising edges from a sysfs GPIO pin.
type SysfsPulseInput struct {
	pin  int
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewSysfsPulseInput(pin int) *SysfsPulseInput {
	return &SysfsPulseInput{pin: pin}
}

func (g *SysfsPulseInput) Attach(handler func(ts time.Time)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stop != nil {
		return fmt.Errorf("gpio %d: already attached", g.pin)
	}

	if err := exportPin(g.pin, "in"); err != nil {
		return err
	}

	valuePath := fmt.Sprintf("%s/gpio%d/value", sysfsGPIOPath, g.pin)
	f, err := os.Open(valuePath)
	if err != nil {
		return fmt.Errorf("gpio %d: %v", g.pin, err)
	}

	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	go g.poll(f, handler, g.stop, g.done)
	return nil
}

// poll emulates the rising-edge interrupt: timestamp capture plus
// handler call, nothing else.
func (g *SysfsPulseInput) poll(f *os.File, handler func(time.Time), stop, done chan struct{}) {
	defer close(done)
	defer f.Close()

	ticker := time.NewTicker(gpioPollInterval)
	defer ticker.Stop()

	buf := make([]byte, 1)
	last := byte('0')

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := f.ReadAt(buf, 0); err != nil {
				continue
			}
			if buf[0] == '1' && last == '0' {
				handler(time.Now())
			}
			last = buf[0]
		}
	}
}

func (g *SysfsPulseInput) Detach() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stop == nil {
		return
	}
	close(g.stop)
	<-g.done
	g.stop = nil
	g.done = nil
}

// SysfsPulseOutput drives a sysfs GPIO pin.
type SysfsPulseOutput struct {
	pin int
	mu  sync.Mutex
	f   *os.File
}

func NewSysfsPulseOutput(pin int) (*SysfsPulseOutput, error) {
	if err := exportPin(pin, "out"); err != nil {
		return nil, err
	}

	valuePath := fmt.Sprintf("%s/gpio%d/value", sysfsGPIOPath, pin)
	f, err := os.OpenFile(valuePath, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("gpio %d: %v", pin, err)
	}
	return &SysfsPulseOutput{pin: pin, f: f}, nil
}

// Pulse raises the line and schedules the falling edge; it never blocks
// the emulation task for the pulse width.
func (g *SysfsPulseOutput) Pulse(width time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.f == nil {
		return fmt.Errorf("gpio %d: closed", g.pin)
	}
	if _, err := g.f.WriteAt([]byte("1"), 0); err != nil {
		return err
	}

	f := g.f
	time.AfterFunc(width, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.f == f {
			f.WriteAt([]byte("0"), 0)
		}
	})
	return nil
}

// Close releases the pin. Safe to call more than once.
func (g *SysfsPulseOutput) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.f != nil {
		g.f.WriteAt([]byte("0"), 0)
		g.f.Close()
		g.f = nil
	}
}

func exportPin(pin int, direction string) error {
	if pin < 0 {
		return fmt.Errorf("gpio: invalid pin %d", pin)
	}

	dirPath := fmt.Sprintf("%s/gpio%d/direction", sysfsGPIOPath, pin)
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		export := fmt.Sprintf("%s/export", sysfsGPIOPath)
		if err := os.WriteFile(export, []byte(fmt.Sprintf("%d", pin)), 0644); err != nil {
			return fmt.Errorf("gpio %d: export: %v", pin, err)
		}
	}
	if err := os.WriteFile(dirPath, []byte(direction), 0644); err != nil {
		return fmt.Errorf("gpio %d: direction: %v", pin, err)
	}
	return nil
}
