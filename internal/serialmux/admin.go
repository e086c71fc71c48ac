package serialmux

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// commandSender is the part of a mux the console needs.
type commandSender interface {
	SendCommand(string) error
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// AttachAdminRoutes serves the receiver console on the tsweb debugger:
//
//	/debug/send-command      HTML console
//	/debug/send-command-api  POST command=...
//	/debug/tail              SSE stream of receiver lines, ?beacon=N to filter
//	/debug/tail.js           console script
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachConsole(mux, s)
}

func attachConsole(mux *http.ServeMux, s commandSender) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("send-command", "BLE receiver console", serveConsole)
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		sendCommandAPI(w, r, s)
	})
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		tailLines(w, r, s)
	})
	debug.HandleSilentFunc("tail.js", serveTailJS)
}

func serveConsole(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := sendCommandTemplate.Execute(&buf, nil); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.Copy(w, &buf)
}

func sendCommandAPI(w http.ResponseWriter, r *http.Request, s commandSender) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.SendCommand(command); err != nil {
		http.Error(w, "Failed to write command", http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "Wrote command %q to receiver", command)
}

// tailMatcher returns the line filter for a ?beacon= value. Non-sample
// lines always pass so status output stays visible.
func tailMatcher(beacon string) (func(string) bool, error) {
	if beacon == "" {
		return func(string) bool { return true }, nil
	}
	want, err := strconv.Atoi(beacon)
	if err != nil || want <= 0 {
		return nil, fmt.Errorf("invalid beacon %q", beacon)
	}
	return func(line string) bool {
		if ClassifyLine(line) != LineTypeSample {
			return true
		}
		s, err := ParseSample(line)
		return err == nil && s.BeaconID == want
	}, nil
}

func tailLines(w http.ResponseWriter, r *http.Request, s commandSender) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	match, err := tailMatcher(r.URL.Query().Get("beacon"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, lines := s.Subscribe()
	defer s.Unsubscribe(id)

	io.WriteString(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !match(line) {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func serveTailJS(w http.ResponseWriter, r *http.Request) {
	f, err := adminTemplateFS.Open("templates/tail.js")
	if err != nil {
		http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")
	io.Copy(w, f)
}
