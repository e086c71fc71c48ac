package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"go.bug.st/serial"

	"github.com/banshee-data/split.report/internal/httputil"
)

// listSerialPorts is replaced in tests.
var listSerialPorts = serial.GetPortsList

// ReceiverPort is a serial device that could be the BLE receiver.
type ReceiverPort struct {
	PortPath     string `json:"port_path"`
	FriendlyName string `json:"friendly_name"`
}

// listReceiverPorts handles GET /api/receiver/ports.
func (s *Server) listReceiverPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := listSerialPorts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to enumerate serial ports: %v", err))
		return
	}
	out := make([]ReceiverPort, 0, len(ports))
	for _, p := range ports {
		out = append(out, ReceiverPort{PortPath: p, FriendlyName: friendlyPortName(p)})
	}
	writeJSON(w, out)
}

// friendlyPortName labels the device types a receiver usually shows up as.
func friendlyPortName(portPath string) string {
	name := filepath.Base(portPath)
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return fmt.Sprintf("USB Serial Adapter (%s)", name)
	case strings.HasPrefix(name, "ttyACM"):
		return fmt.Sprintf("USB CDC Device (%s)", name)
	case strings.HasPrefix(name, "cu.usbmodem"), strings.HasPrefix(name, "cu.usbserial"):
		return fmt.Sprintf("USB Receiver (%s)", name)
	case strings.HasPrefix(name, "ttyAMA"):
		return fmt.Sprintf("Raspberry Pi Serial (%s)", name)
	default:
		return name
	}
}

// sendReceiverCommand handles POST /api/receiver/command with a "command"
// form value.
func (s *Server) sendReceiverCommand(w http.ResponseWriter, r *http.Request) {
	if s.Mux == nil {
		unavailable(w, "receiver")
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "missing 'command'")
		return
	}
	if err := s.Mux.SendCommand(command); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to send command: %v", err))
		return
	}
	writeJSON(w, map[string]string{"sent": command})
}
