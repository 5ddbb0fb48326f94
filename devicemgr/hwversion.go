package devicemgr

import "time"

// HWVersion is the handle's hardware revision, determined once at startup
// from the version-select ADC channel.
type HWVersion int

const (
	HWVerNone HWVersion = iota
	HWVer4
	HWVer5
)

func (v HWVersion) String() string {
	switch v {
	case HWVer4:
		return "v4"
	case HWVer5:
		return "v5"
	default:
		return "none"
	}
}

// hwVersionRange is one entry of the ADC-count lookup table: a hardware
// version and its nominal (center) ADC count. The actual bounds are
// derived by applying hwVerTolerance, matching the original's
// "Lo = count - tolerance*count, Hi = count + tolerance*count" derivation
// rather than hardcoding pre-computed bounds.
type hwVersionRange struct {
	version HWVersion
	center  float64
}

// hwVerTolerance is the +-7.5% window applied around each table center.
const hwVerTolerance = 0.075

var hwVersionTable = []hwVersionRange{
	{HWVerNone, 7680},
	{HWVer5, 25652},
	{HWVer4, 30223},
}

func calculateHWVersion(adcCount uint16) HWVersion {
	count := float64(adcCount)
	for _, e := range hwVersionTable {
		lo := e.center - hwVerTolerance*e.center
		hi := e.center + hwVerTolerance*e.center
		if count >= lo && count <= hi {
			return e.version
		}
	}
	return HWVerNone
}

// ADC is the minimal analog front-end contract needed to read the
// version-select channel.
type ADC interface {
	EnableReference() error
	ReadVersionChannel() (uint16, error)
}

// adcSettleDelay mirrors the original's wait for the 2.5V reference to
// stabilize before sampling.
const adcSettleDelay = 2 * time.Millisecond

// DetermineHWVersion enables the voltage reference, waits for it to
// settle, samples the version-select channel, and stores the resulting
// HWVersion on the manager. It must run only once, after every chip on
// the board has been brought up, matching the original's note that
// running it earlier yields erroneous results.
func (m *Manager) DetermineHWVersion(adc ADC, sleep func(time.Duration)) error {
	if err := adc.EnableReference(); err != nil {
		return err
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	sleep(adcSettleDelay)

	count, err := adc.ReadVersionChannel()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.hwVer = calculateHWVersion(count)
	m.mu.Unlock()
	return nil
}

// HWVersion reports the version determined by DetermineHWVersion, or
// HWVerNone if it has not run yet.
func (m *Manager) HWVersion() HWVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hwVer
}
