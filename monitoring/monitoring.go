// Package monitoring serves driver diagnostics over HTTP, allowing
// the state of a running network stack to be inspected from a
// browser or command line tooling.
package monitoring

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"

	"github.com/zynaptic/w5500go/w5500"
)

// Monitor serves diagnostic snapshots for one or more network
// drivers.
type Monitor struct {
	portNumber int

	mu      sync.Mutex
	drivers []*w5500.Driver
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitoring server.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}
	m.portNumber = portNumber
	return m
}

// RegisterDriver adds a driver to be monitored.
func (m *Monitor) RegisterDriver(d *w5500.Driver) {
	m.mu.Lock()
	m.drivers = append(m.drivers, d)
	m.mu.Unlock()
}

// routes builds the monitoring route table.
func (m *Monitor) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", m.listStatus)
	r.HandleFunc("/api/driver/{index}", m.driverStatus)
	r.HandleFunc("/api/resource", m.listResources)
	r.PathPrefix("/debug/").Handler(http.DefaultServeMux)
	return r
}

// StartServer starts the monitoring web server, listening on the
// configured port or a random port if none was given.
func (m *Monitor) StartServer() error {
	r := m.routes()

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return fmt.Errorf("monitoring: starting listener: %w", err)
	}
	fmt.Fprintf(os.Stderr,
		"Monitoring network stack with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		if err := http.Serve(listener, r); err != nil {
			fmt.Fprintf(os.Stderr, "monitoring server stopped: %v\n", err)
		}
	}()
	return nil
}

func (m *Monitor) listStatus(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	drivers := m.drivers
	m.mu.Unlock()

	snapshots := make([]w5500.Diagnostics, len(drivers))
	for i, d := range drivers {
		snapshots[i] = d.Diag()
	}
	writeJSON(w, snapshots)
}

func (m *Monitor) driverStatus(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])

	m.mu.Lock()
	ok := err == nil && index >= 0 && index < len(m.drivers)
	var d *w5500.Driver
	if ok {
		d = m.drivers[index]
	}
	m.mu.Unlock()

	if !ok {
		http.Error(w, "unknown driver index", http.StatusNotFound)
		return
	}
	writeJSON(w, d.Diag())
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "monitoring response failed: %v\n", err)
	}
}
