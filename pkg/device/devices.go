package device

import (
	"context"
	"fmt"
	"strings"
)

// DeviceEntry is one line of `adb devices -l`.
type DeviceEntry struct {
	Serial string
	State  string // device, offline, unauthorized
	Model  string
}

// NoDevicesError is returned when no usable device is connected.
type NoDevicesError struct {
	Message     string
	Suggestions []string
}

func (e *NoDevicesError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nOptions:\n")
		for i, s := range e.Suggestions {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
		}
	}
	return b.String()
}

func buildNoDevicesError() *NoDevicesError {
	return &NoDevicesError{
		Message: "No Android devices found",
		Suggestions: []string{
			"Connect a physical device via USB and enable USB debugging",
			"Start an emulator: emulator -avd <name>",
			"Pick a device explicitly: settings-runner --device <serial> ...",
		},
	}
}

// ListDevices returns all devices known to adb.
func ListDevices(ctx context.Context) ([]DeviceEntry, error) {
	adbPath, err := findADB()
	if err != nil {
		return nil, err
	}
	return listDevices(ctx, adbPath, execCommand)
}

// detectSerial picks the first device in the "device" state.
func detectSerial(ctx context.Context, adbPath string, run commandFunc) (string, error) {
	devices, err := listDevices(ctx, adbPath, run)
	if err != nil {
		return "", fmt.Errorf("no device specified and auto-detect failed: %w", err)
	}
	serial := firstReady(devices)
	if serial == "" {
		return "", buildNoDevicesError()
	}
	return serial, nil
}

func listDevices(ctx context.Context, adbPath string, run commandFunc) ([]DeviceEntry, error) {
	stdout, stderr, err := run(ctx, adbPath, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w: %s", err, stderr)
	}
	return parseDeviceList(string(stdout)), nil
}

// parseDeviceList parses `adb devices -l` output.
func parseDeviceList(out string) []DeviceEntry {
	var devices []DeviceEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		entry := DeviceEntry{Serial: parts[0], State: parts[1]}
		for _, p := range parts[2:] {
			if k, v, ok := strings.Cut(p, ":"); ok && k == "model" {
				entry.Model = v
			}
		}
		devices = append(devices, entry)
	}
	return devices
}

func firstReady(devices []DeviceEntry) string {
	for _, d := range devices {
		if d.State == "device" {
			return d.Serial
		}
	}
	return ""
}
