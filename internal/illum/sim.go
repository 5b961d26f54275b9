package illum

import "sync"

// SimDriver records the last applied brightness for development rigs.
type SimDriver struct {
	mu    sync.Mutex
	level float64
}

func (d *SimDriver) SetBrightness(level float64) error {
	d.mu.Lock()
	d.level = level
	d.mu.Unlock()
	return nil
}

// Brightness returns the last applied duty fraction.
func (d *SimDriver) Brightness() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}
