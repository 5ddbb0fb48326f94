package link

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// busMasterAddr is the bus-master chip's fixed 7-bit I²C address.
const busMasterAddr = 0x18

// OpenPeriphBus inits the periph.io host drivers and opens the named I²C
// bus (empty string picks the first available one, the same i2creg lookup
// lcd.Open uses for spireg), returning a Bus New can drive directly. The
// caller is responsible for closing the returned i2c.BusCloser once the
// Link is no longer needed.
func OpenPeriphBus(name string) (i2c.BusCloser, Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("link: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("link: %w", err)
	}
	return b, &i2c.Dev{Addr: busMasterAddr, Bus: b}, nil
}
