// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watchdog checks that the hardware watchdog device is present.
// Arming and feeding the watchdog belongs to another service; a missing
// device is only worth a warning here.
package watchdog

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tombee/hostkeeper/internal/log"
)

// Status describes the watchdog device.
type Status struct {
	Device  string
	Present bool
	// CharDevice is false when the path exists but is not a character device.
	CharDevice bool
}

// Probe stats the device without opening it. Opening /dev/watchdog arms
// the timer on most drivers.
func Probe(device string) (Status, error) {
	st := Status{Device: device}
	if device == "" {
		return st, fmt.Errorf("no watchdog device configured")
	}

	info, err := os.Stat(device)
	if err != nil {
		return st, err
	}
	st.Present = true
	st.CharDevice = info.Mode()&os.ModeCharDevice != 0
	return st, nil
}

// Check probes the device and logs the result. It never fails startup.
func Check(logger *slog.Logger, device string) Status {
	logger = log.WithComponent(logger, "watchdog")

	st, err := Probe(device)
	switch {
	case err != nil:
		logger.Warn("watchdog device unavailable", slog.String("device", device), log.Error(err))
	case !st.CharDevice:
		logger.Warn("watchdog path is not a character device", slog.String("device", device))
	default:
		logger.Debug("watchdog device present", slog.String("device", device))
	}
	return st
}
