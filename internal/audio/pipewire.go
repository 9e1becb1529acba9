package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// PipeWire reads the port graph of a PipeWire/JACK server
type PipeWire struct {
	// command runs pw-link; replaced in tests
	command func(args ...string) ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{
		command: func(args ...string) ([]byte, error) {
			return exec.Command("pw-link", args...).Output()
		},
	}
}

// ListPorts returns all available JACK ports via PipeWire
func (pw *PipeWire) ListPorts() ([]string, error) {
	devices, err := pw.ListDevices()
	if err != nil {
		return nil, err
	}
	ports := make([]string, 0, len(devices))
	for _, d := range devices {
		ports = append(ports, d.Name)
	}
	return ports, nil
}

// ListDevices returns the PipeWire ports as devices. Output ports produce
// audio and become source ports; input ports become target ports.
func (pw *PipeWire) ListDevices() ([]Device, error) {
	output, err := pw.command("-io")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parseLinkOutput(string(output)), nil
}

func parseLinkOutput(output string) []Device {
	var devices []Device
	source := true

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "Output ports:"):
			source = true
		case strings.HasPrefix(line, "Input ports:"):
			source = false
		default:
			devices = append(devices, Device{Name: line, Source: source, Volume: 1.0})
		}
	}

	return devices
}

// ValidatePort checks if a specific port exists and has no duplicates
func (pw *PipeWire) ValidatePort(portName string) error {
	if portName == "" || portName == "disabled" {
		return nil
	}

	allPorts, err := pw.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to check port: %w", err)
	}

	duplicates := findPortDuplicatesInList(portName, allPorts)
	switch {
	case len(duplicates) == 0:
		slog.Debug("Port missing from PipeWire graph", "port", portName)
		return fmt.Errorf("port not found: %s", portName)
	case len(duplicates) > 1:
		return fmt.Errorf("duplicate ports detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}

	return nil
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}

	return duplicates
}
