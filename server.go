package parley

import (
	"compress/flate"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
)

// Server is the outer HTTP surface of the chat service. It owns the router the
// individual handlers are mounted on and manages clean startup and shutdown.
type Server interface {
	Config() *Config

	WaitGroup() *sync.WaitGroup
	StopChan() chan bool
	Stopped() bool

	Router() chi.Router

	Start() error
	Stop() error
}

// NewServer creates a new Server for the passed in configuration. The server will have to be started
// afterwards, which is when configuration options are checked.
func NewServer(config *Config) Server {
	router := chi.NewRouter()
	router.Use(middleware.Compress(flate.DefaultCompression))
	router.Use(middleware.StripSlashes)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	return &server{
		config: config,

		router: router,

		stopChan:  make(chan bool),
		waitGroup: &sync.WaitGroup{},
		stopped:   false,
	}
}

type server struct {
	httpServer *http.Server
	router     *chi.Mux

	config *Config

	waitGroup *sync.WaitGroup
	stopChan  chan bool
	stopped   bool
}

// Start starts the Server listening for incoming requests and websocket
// upgrades. It returns as soon as the listener goroutine is running.
func (s *server) Start() error {
	s.router.NotFound(s.handle404)
	s.router.MethodNotAllowed(s.handle405)

	// read timeouts stay generous here, websocket connections are hijacked out
	// of the server's control before they could trip them
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Address, s.config.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
	}

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logrus.WithFields(logrus.Fields{
				"comp":  "server",
				"state": "stopping",
				"err":   err,
			}).Error()
		}
	}()

	logrus.WithFields(logrus.Fields{
		"comp":    "server",
		"port":    s.config.Port,
		"state":   "started",
		"version": s.config.Version,
	}).Info("server listening on ", s.config.Port)

	return nil
}

// Stop shuts the HTTP server down and waits for in-flight requests to finish.
func (s *server) Stop() error {
	log := logrus.WithField("comp", "server")
	log.WithField("state", "stopping").Info("stopping server")

	if err := s.httpServer.Shutdown(context.Background()); err != nil {
		log.WithField("state", "stopping").WithError(err).Error("error shutting down server")
	}

	s.stopped = true
	close(s.stopChan)

	s.waitGroup.Wait()

	log.WithField("state", "stopped").Info("server stopped")
	return nil
}

func (s *server) WaitGroup() *sync.WaitGroup { return s.waitGroup }
func (s *server) StopChan() chan bool        { return s.stopChan }
func (s *server) Config() *Config            { return s.config }
func (s *server) Stopped() bool              { return s.stopped }
func (s *server) Router() chi.Router         { return s.router }

func (s *server) handle404(w http.ResponseWriter, r *http.Request) {
	logrus.WithField("url", r.URL.String()).WithField("method", r.Method).WithField("resp_status", "404").Info("not found")
	w.WriteHeader(http.StatusNotFound)
	_, err := fmt.Fprintf(w, "Not Found")
	if err != nil {
		logrus.WithError(err).Error()
	}
}

func (s *server) handle405(w http.ResponseWriter, r *http.Request) {
	logrus.WithField("url", r.URL.String()).WithField("method", r.Method).WithField("resp_status", "405").Info("invalid method")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_, err := fmt.Fprintf(w, "Method Not Allowed")
	if err != nil {
		logrus.WithError(err).Error()
	}
}
