package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jnb666/cifarnet/nnet"
	"github.com/jnb666/cifarnet/plots"
	"github.com/jnb666/cifarnet/stats"
	"gonum.org/v1/plot"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	net *Network
}

// Base data for handler functions to display the training stats
func NewTrainPage(t *Templates, net *Network) *TrainPage {
	return &TrainPage{Templates: t.Select("/train"), net: net}
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = p.net.heading()
		p.Exec(w, "train", p)
	}
}

// Handler function to get the stats for all epochs as JSON
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		data, err := json.Marshal(p.net.Stats)
		p.net.Unlock()
		if err != nil {
			logError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

// Handler function for websocket connection, the stats are sent as each epoch completes
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.net.addConn(conn)
	}
}

// Handler function for the accuracy and loss plots in svg format
func (p *TrainPage) Plot() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		history := append([]nnet.Stats{}, p.net.Stats...)
		p.net.Unlock()
		var plt *plot.Plot
		if mux.Vars(r)["kind"] == "loss" {
			plt = plots.Loss(history)
		} else {
			plt = plots.Accuracy(history)
		}
		data, err := plots.SVG(plt, 500, 300)
		if err != nil {
			logError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write(data)
	}
}

func (p *TrainPage) Headers() []string {
	return nnet.StatsHeaders
}

func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	last := len(p.net.Stats) - 1
	res := []nnet.Stats{}
	for i := last; i >= 0 && i > last-n; i-- {
		res = append(res, p.net.Stats[i])
	}
	return res
}

func (p *TrainPage) RunTime() string {
	if len(p.net.Stats) == 0 {
		return ""
	}
	t := p.net.Stats[len(p.net.Stats)-1].Elapsed
	return fmt.Sprintf("run time: %s", t.Round(10*time.Millisecond))
}

// EpochTime is the mean and standard deviation of the time per epoch in seconds.
func (p *TrainPage) EpochTime() *stats.Average {
	return nnet.EpochTime(p.net.Stats)
}

func (p *TrainPage) Config() string {
	return p.net.Conf.String()
}
