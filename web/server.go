package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jnb666/cifarnet/history"
)

// Options for the web server. If User is set then requests need basic auth with this
// user name and password. If History is set then previous runs are listed under /runs.
type Options struct {
	Addr     string
	User     string
	Password string
	History  *history.Store
}

const (
	scale = 2
	rows  = 6
	cols  = 10
)

// NewServer returns a server with the status pages for the network.
func NewServer(opts Options, net *Network) (*http.Server, error) {
	t, err := NewTemplates()
	if err != nil {
		return nil, err
	}
	if opts.History != nil {
		t.AddMenuItem(Link{Name: "runs", Url: "/runs"})
	}
	trainPage := NewTrainPage(t.Clone(), net)
	imagePage := NewImagePage(t.Clone(), net, scale, rows, cols)

	r := mux.NewRouter()
	r.Handle("/", http.RedirectHandler("/train", http.StatusFound))
	r.HandleFunc("/train", trainPage.Base())
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/plot/{kind:(?:accuracy|loss)}", trainPage.Plot())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.HandleFunc("/report", imagePage.Report())
	r.Handle("/images", http.RedirectHandler("/images/1", http.StatusFound))
	r.HandleFunc("/images/{page:[0-9]+}", imagePage.Base())
	r.HandleFunc("/img/{id:[0-9]+}", imagePage.Image())

	if opts.History != nil {
		runsPage := NewRunsPage(t.Clone(), net, opts.History)
		r.HandleFunc("/runs", runsPage.Base())
		r.HandleFunc("/runs/{id:[0-9]+}", runsPage.Detail())
	}

	if opts.User != "" {
		r.Use(NewAuthMiddleware(opts.User, opts.Password).Middleware)
	}
	return &http.Server{Addr: opts.Addr, Handler: r}, nil
}
