// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"fmt"
	"strings"
	"time"
)

// Frequency sets the base step of the adaptive upload delay.
type Frequency uint8

// The zero value is average.
const (
	FrequencyAverage Frequency = iota
	FrequencyFrequent
	FrequencyRare
)

// BaseStep returns the unit the delay bounds are multiples of.
func (f Frequency) BaseStep() time.Duration {
	switch f {
	case FrequencyFrequent:
		return 500 * time.Millisecond
	case FrequencyRare:
		return 5 * time.Second
	default:
		return 2 * time.Second
	}
}

func (f Frequency) String() string {
	switch f {
	case FrequencyAverage:
		return "average"
	case FrequencyFrequent:
		return "frequent"
	case FrequencyRare:
		return "rare"
	default:
		return fmt.Sprintf("unknown(%d)", f)
	}
}

// ParseFrequency converts "frequent", "average" or "rare".
func ParseFrequency(name string) (Frequency, error) {
	switch strings.ToLower(name) {
	case "frequent":
		return FrequencyFrequent, nil
	case "average", "":
		return FrequencyAverage, nil
	case "rare":
		return FrequencyRare, nil
	default:
		return 0, fmt.Errorf("unknown upload frequency %q", name)
	}
}

const (
	defaultDelayFactor = 5
	minDelayFactor     = 1
	maxDelayFactor     = 10

	decreaseRatio = 0.9
	increaseRatio = 1.1
)

// delayPolicy is the adaptive wait between ticks.
type delayPolicy struct {
	minimum, maximum, current time.Duration
}

func newDelayPolicy(frequency Frequency) delayPolicy {
	step := frequency.BaseStep()
	return delayPolicy{
		minimum: minDelayFactor * step,
		maximum: maxDelayFactor * step,
		current: defaultDelayFactor * step,
	}
}

func (p *delayPolicy) decrease() {
	p.current = max(p.minimum, time.Duration(float64(p.current)*decreaseRatio))
}

func (p *delayPolicy) increase() {
	p.current = min(p.maximum, time.Duration(float64(p.current)*increaseRatio))
}

func (p *delayPolicy) backOff() {
	p.current = min(p.maximum, p.current*2)
}
