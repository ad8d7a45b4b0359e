// Package monitoring serves the live state of a running pipeline over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/rtloop/monitoring/web"
	"github.com/sarchlab/rtloop/pipeline"
	"github.com/sarchlab/rtloop/queueing"
	"github.com/sarchlab/rtloop/syncmgr"
	"github.com/sarchlab/rtloop/telemetry"
)

// A Target is what the monitor observes. *pipeline.Pipeline is a Target.
type Target interface {
	Name() string
	Snapshot() telemetry.Snapshot
	Manager() syncmgr.Manager
	Stats() pipeline.Stats
	Components() map[string]any
	Queues() []queueing.Buffer
}

var _ Target = (*pipeline.Pipeline)(nil)

// Monitor turns a run into a server that can be inspected while it runs.
type Monitor struct {
	portNumber  int
	openBrowser bool
	gatherer    prometheus.Gatherer
	logger      *slog.Logger

	targetLock sync.RWMutex
	target     Target

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
	addr   string
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warn("monitoring port not allowed, using a random port",
			"port", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor page in a browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// WithGatherer sets where /metrics gathers Prometheus metrics from.
func (m *Monitor) WithGatherer(g prometheus.Gatherer) *Monitor {
	m.gatherer = g
	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(l *slog.Logger) *Monitor {
	m.logger = l
	return m
}

// RegisterTarget sets the run being observed. A sweep registers each run in
// turn.
func (m *Monitor) RegisterTarget(t Target) {
	m.targetLock.Lock()
	defer m.targetLock.Unlock()

	m.target = t
}

func (m *Monitor) currentTarget() Target {
	m.targetLock.RLock()
	defer m.targetLock.RUnlock()

	return m.target
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the HTTP handler of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/snapshot", m.snapshot)
	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/contention", m.contention)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/queues", m.listQueues)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitor.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", err
	}

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.addr = url

	fmt.Fprintf(os.Stderr, "Monitoring run with %s\n", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitoring server stopped", "error", err)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			m.logger.Warn("cannot open browser", "url", url, "error", err)
		}
	}

	return url, nil
}

// URL returns the URL of a started server.
func (m *Monitor) URL() string {
	return m.addr
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *Monitor) targetOr503(w http.ResponseWriter) Target {
	t := m.currentTarget()
	if t == nil {
		http.Error(w, "No run registered", http.StatusServiceUnavailable)
	}

	return t
}

func (m *Monitor) managerOr503(w http.ResponseWriter) syncmgr.Manager {
	t := m.targetOr503(w)
	if t == nil {
		return nil
	}

	mgr := t.Manager()
	if mgr == nil {
		http.Error(w, "Run not started", http.StatusServiceUnavailable)
	}

	return mgr
}

type snapshotRsp struct {
	Run        string  `json:"run"`
	Compliance float64 `json:"compliance"`

	telemetry.Snapshot
}

func (m *Monitor) snapshot(w http.ResponseWriter, _ *http.Request) {
	t := m.targetOr503(w)
	if t == nil {
		return
	}

	s := t.Snapshot()
	writeJSON(w, snapshotRsp{
		Run:        t.Name(),
		Compliance: s.Compliance(),
		Snapshot:   s,
	})
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	t := m.targetOr503(w)
	if t == nil {
		return
	}

	writeJSON(w, t.Stats())
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	mgr := m.managerOr503(w)
	if mgr == nil {
		return
	}

	writeJSON(w, mgr.StatusSnapshot())
}

type contentionRsp struct {
	Mode      string                             `json:"mode"`
	Resources map[string]syncmgr.ContentionStats `json:"resources"`
	Dropped   uint64                             `json:"dropped_events"`
}

func (m *Monitor) contention(w http.ResponseWriter, _ *http.Request) {
	mgr := m.managerOr503(w)
	if mgr == nil {
		return
	}

	rsp := contentionRsp{
		Mode:      mgr.Mode().String(),
		Resources: make(map[string]syncmgr.ContentionStats),
		Dropped:   mgr.DroppedEvents(),
	}

	for r, s := range mgr.Contention() {
		rsp.Resources[r.String()] = s
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	t := m.targetOr503(w)
	if t == nil {
		return
	}

	names := make([]string, 0)
	for name := range t.Components() {
		names = append(names, name)
	}

	sort.Strings(names)

	writeJSON(w, names)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) any {
	t := m.targetOr503(w)
	if t == nil {
		return nil
	}

	component, ok := t.Components()[name]
	if !ok {
		http.Error(w, "Component not found", http.StatusNotFound)
		return nil
	}

	return component
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	component := m.findComponentOr404(w, mux.Vars(r)["name"])
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		m.logger.Warn("cannot serialize component", "error", err)
	}
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := serializer.Serialize(w); err != nil {
		m.logger.Warn("cannot serialize field", "error", err)
	}
}

type queueRsp struct {
	Queue   string `json:"queue"`
	Level   int    `json:"level"`
	Cap     int    `json:"cap"`
	Dropped uint64 `json:"dropped"`
}

func (m *Monitor) listQueues(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := queuesParseParams(r)
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	t := m.targetOr503(w)
	if t == nil {
		return
	}

	queues := sortAndSelectQueues(t.Queues(), sortMethod, limit, offset)

	rsp := make([]queueRsp, 0, len(queues))
	for _, q := range queues {
		rsp = append(rsp, queueRsp{
			Queue:   q.Name(),
			Level:   q.Size(),
			Cap:     q.Capacity(),
			Dropped: q.Dropped(),
		})
	}

	writeJSON(w, rsp)
}

func queuesParseParams(r *http.Request) (string, int, int, error) {
	sortMethod := r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
	}

	limit, err := intParam(r, "limit")
	if err != nil {
		return "", 0, 0, err
	}

	offset, err := intParam(r, "offset")
	if err != nil {
		return "", 0, 0, err
	}

	return sortMethod, limit, offset, nil
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}

	return v, nil
}

func queuePercent(q queueing.Buffer) float64 {
	return float64(q.Size()) / float64(q.Capacity())
}

// sortAndSelectQueues orders the queues, fullest first, and returns the
// page selected by limit and offset. A zero limit means no limit.
func sortAndSelectQueues(
	queues []queueing.Buffer,
	sortMethod string,
	limit, offset int,
) []queueing.Buffer {
	sorted := append([]queueing.Buffer(nil), queues...)

	byLevel := func(i, j int) (bool, bool) {
		si, sj := sorted[i].Size(), sorted[j].Size()
		return si > sj, si == sj
	}

	byPercent := func(i, j int) (bool, bool) {
		pi, pj := queuePercent(sorted[i]), queuePercent(sorted[j])
		return pi > pj, pi == pj
	}

	primary, secondary := byPercent, byLevel
	if sortMethod == "level" {
		primary, secondary = byLevel, byPercent
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if less, tie := primary(i, j); !tie {
			return less
		}

		less, _ := secondary(i, j)

		return less
	})

	offset = min(offset, len(sorted))
	sorted = sorted[offset:]

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	return sorted
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
	Threads    int32   `json:"threads"`
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

	memory, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	threads, _ := proc.NumThreads()

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
		Threads:    threads,
	})
}

// ProfileDuration is how long /api/profile samples the CPU.
var ProfileDuration = time.Second

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(ProfileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}
