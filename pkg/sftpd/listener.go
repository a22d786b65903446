package sftpd

import (
	"net/http"

	"github.com/golang/glog"

	"github.com/qbane/websocketfs/pkg/channel"
	"github.com/qbane/websocketfs/pkg/metrics"
	"github.com/qbane/websocketfs/pkg/safefs"
)

// Exporter accepts WebSocket upgrades over HTTP and spawns one Session per
// accepted connection, each bound to a fresh safe filesystem rooted at
// ExportRoot. Modeled on the teacher's ExportTCP/exportedFileSystem
// per-connection session pattern, retargeted to an HTTP handler since the
// transport here is a WebSocket upgrade rather than a raw TCP accept loop.
type Exporter struct {
	ExportRoot string
	ReadOnly   bool
	HideUIDGID bool
	Metrics    *metrics.Collector
}

// ServeHTTP upgrades the request to a WebSocket channel and starts a
// Session against a fresh safefs.FS rooted at e.ExportRoot. It returns once
// the session's read loop is running; the session lives on until the
// channel closes.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, err := channel.Accept(w, r)
	if err != nil {
		glog.Warningf("sftpd: failed to accept channel from %s: %v", r.RemoteAddr, err)
		return
	}

	fs, err := safefs.New(e.ExportRoot, e.ReadOnly, e.HideUIDGID)
	if err != nil {
		glog.Errorf("sftpd: cannot open export root %q: %v", e.ExportRoot, err)
		ch.Close(1011, "server misconfigured")
		return
	}

	if e.Metrics != nil {
		fs.SetMetrics(e.Metrics)
	}

	glog.V(1).Infof("sftpd: accepted session from %s, root=%s readOnly=%v", r.RemoteAddr, e.ExportRoot, e.ReadOnly)
	session := NewSession(ch, fs)
	if e.Metrics != nil {
		session.SetMetrics(e.Metrics)
	}
	session.Serve()
}
