package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jnb666/cifarnet/history"
	"github.com/jnb666/cifarnet/nnet"
)

// RunsPage lists the runs saved in the history database.
type RunsPage struct {
	*Templates
	Runs  []history.Run
	Run   history.Run
	Stats []nnet.Stats
	net   *Network
	store *history.Store
}

// Base data for handler functions to view previous runs
func NewRunsPage(t *Templates, net *Network, store *history.Store) *RunsPage {
	return &RunsPage{Templates: t.Select("/runs"), net: net, store: store}
}

// Handler function for the list of runs, most recent first
func (p *RunsPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = p.net.heading()
		runs, err := p.store.Runs()
		if err != nil {
			logError(w, err)
			return
		}
		p.Runs = runs
		p.Exec(w, "runs", p)
	}
}

// Handler function for the saved stats, config and report of a single run
func (p *RunsPage) Detail() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = p.net.heading()
		id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		runs, err := p.store.Runs()
		if err != nil {
			logError(w, err)
			return
		}
		found := false
		for _, run := range runs {
			if run.ID == id {
				p.Run, found = run, true
			}
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		if p.Stats, err = p.store.Epochs(id); err != nil {
			logError(w, err)
			return
		}
		p.Exec(w, "run", p)
	}
}

func (p *RunsPage) Headers() []string {
	return nnet.StatsHeaders
}

// EpochTime is the mean and standard deviation of the time per epoch for the selected run.
func (p *RunsPage) EpochTime() string {
	return nnet.EpochTime(p.Stats).String()
}

func (p *RunsPage) Duration(run history.Run) string {
	if run.Finished.IsZero() {
		return "-"
	}
	return run.Finished.Sub(run.Started).Round(time.Second).String()
}
