/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package srv serves cataloged sessions over HTTP: listing, reports, CSV export,
// raw download and Traccar upload.
package srv

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-openapi/loads"
	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/openponylogger/go-opl/pkg/catalog"
	"github.com/openponylogger/go-opl/pkg/command"
	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/log"
)

//go:embed swagger.json
var swaggerJSON []byte

type ApiServer struct {
	context.Context
	*config.Config
	*mux.Router
	catalog *catalog.Catalog
	traccar *command.TraccarClient
	title   string
}

func NewApiServer(ctx context.Context, cfg *config.Config, cat *catalog.Catalog) (*ApiServer, error) {
	log.Info("Initializing API server with address: %s port: %d data: %s",
		cfg.ServerConfig.Address, cfg.ServerConfig.Port, cfg.ServerConfig.DataDir)

	doc, err := loads.Analyzed(json.RawMessage(swaggerJSON), "")
	if err != nil {
		return nil, ErrSwagger{What: err.Error()}
	}
	s := &ApiServer{
		Context: ctx,
		Config:  cfg,
		catalog: cat,
		title:   doc.Spec().Info.Title,
	}
	if cfg.TraccarConfig != nil {
		s.traccar = command.NewTraccarClient(cfg.TraccarConfig)
	}
	s.configureRouter()
	return s, nil
}

// Handler returns the router wrapped with the API documentation page
func (s *ApiServer) Handler() http.Handler {
	return middleware.Redoc(middleware.RedocOpts{
		Path:    "docs",
		SpecURL: "/swagger.json",
		Title:   s.title,
	}, s.Router)
}

// Run serves until the server context is done
func (s *ApiServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.Config.ServerConfig.Address, s.Config.ServerConfig.Port)
	log.Debug("Starting API server: address: %s", addr)
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
	)
	httpServer := &http.Server{
		Handler: handlers.LoggingHandler(log.Writer(log.InfoLevel), cors(s.Handler())),
		Addr:    addr,
	}
	go func() {
		<-s.Done()
		log.Info("Stopping API server")
		if err := httpServer.Shutdown(context.Background()); err != nil {
			log.Error("API server shutdown: %s", err)
		}
	}()
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *ApiServer) configureRouter() {
	s.Router = mux.NewRouter()
	s.Router.HandleFunc("/swagger.json", s.handleSwagger()).Methods("GET")
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/sessions", s.handleSessions()).Methods("GET")
	subRouter.HandleFunc("/sessions/scan", s.handleScan()).Methods("POST")
	// session names are plain file names inside the data directory
	subRouter.HandleFunc("/sessions/{name:[A-Za-z0-9_.-]+}", s.handleReport()).Methods("GET")
	subRouter.HandleFunc("/sessions/{name:[A-Za-z0-9_.-]+}/csv", s.handleCSV()).Methods("GET")
	subRouter.HandleFunc("/sessions/{name:[A-Za-z0-9_.-]+}/download", s.handleDownload()).Methods("GET")
	subRouter.HandleFunc("/sessions/{name:[A-Za-z0-9_.-]+}/upload", s.handleUpload()).Methods("POST")
}

func (s *ApiServer) handleSwagger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(swaggerJSON)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error while encoding response: %s", err)
	}
}
