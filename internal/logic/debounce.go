package logic

// DebounceSamples is the number of net released samples required before a
// press edge is waited for.
const DebounceSamples = 4

// Debouncer is a bounded hysteresis counter over button samples. Released
// samples count up to DebounceSamples, pressed samples count down to zero.
// Once the counter saturates the input has been stably released and the
// caller may arm an edge wait.
type Debouncer struct {
	stableLow int
}

// Process feeds one sample and reports whether the debouncer is armed.
func (d *Debouncer) Process(pressed bool) bool {
	if pressed {
		if d.stableLow > 0 {
			d.stableLow--
		}
	} else if d.stableLow < DebounceSamples {
		d.stableLow++
	}

	return d.Armed()
}

// Armed reports whether enough stable released samples have been seen.
func (d *Debouncer) Armed() bool {
	return d.stableLow >= DebounceSamples
}

// Count returns the current counter value in [0, DebounceSamples].
func (d *Debouncer) Count() int {
	return d.stableLow
}

// Reset starts a new debounce cycle.
func (d *Debouncer) Reset() {
	d.stableLow = 0
}
