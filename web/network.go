// Package web has a web based interface to monitor network training and view the test results.
package web

import (
	"fmt"
	"html/template"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jnb666/cifarnet/img"
	"github.com/jnb666/cifarnet/nnet"
	"github.com/jnb666/cifarnet/report"
)

// Network has the status of the current training run which is shared with the web pages.
// It is updated from the training loop after each epoch and never holds the model weights.
type Network struct {
	Conf   nnet.Config
	Stats  []nnet.Stats
	Report *report.Report
	Data   *img.Data
	Labels []int32
	Pred   []int32
	conns  map[*websocket.Conn]bool
	sync.Mutex
}

// Create a new network status for a run with the given config
func NewNetwork(conf nnet.Config) *Network {
	return &Network{Conf: conf, conns: make(map[*websocket.Conn]bool)}
}

// Tester returns a tester which publishes the stats after each epoch and pushes them to
// any connected websocket clients.
func (n *Network) Tester() nnet.Tester {
	return nnet.TestFunc(func(net *nnet.Network, s nnet.Stats) error {
		n.Publish(s)
		return nil
	})
}

// Publish adds the stats for an epoch.
func (n *Network) Publish(s nnet.Stats) {
	n.Lock()
	defer n.Unlock()
	n.Stats = append(n.Stats, s)
	for conn := range n.conns {
		if err := conn.WriteJSON(s); err != nil {
			log.Println("websocket write:", err)
			conn.Close()
			delete(n.conns, conn)
		}
	}
}

// SetResult saves the final evaluation on the test set: the report together with the
// test images, their labels and the predicted classes.
func (n *Network) SetResult(rep *report.Report, data *img.Data, labels, pred []int32) {
	n.Lock()
	defer n.Unlock()
	n.Report = rep
	n.Data = data
	n.Labels = labels
	n.Pred = pred
}

// Epoch returns the last completed epoch.
func (n *Network) Epoch() int {
	if len(n.Stats) == 0 {
		return 0
	}
	return n.Stats[len(n.Stats)-1].Epoch
}

func (n *Network) addConn(conn *websocket.Conn) {
	n.Lock()
	n.conns[conn] = true
	n.Unlock()
	// discard anything sent by the client and unregister when the connection is closed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				n.Lock()
				delete(n.conns, conn)
				n.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (n *Network) clients() int {
	n.Lock()
	defer n.Unlock()
	return len(n.conns)
}

func (n *Network) heading() template.HTML {
	s := fmt.Sprintf(`%s: epoch <span id="epoch">%d</span> of %d`, n.Conf.DataSet, n.Epoch(), n.Conf.MaxEpoch)
	return template.HTML(s)
}
