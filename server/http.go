/******************************************************************************
 *
 *  Description :
 *
 *    Web server initialization and shutdown.
 *
 *****************************************************************************/

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/uniconnect/chat/server/logs"
)

// TlsConfig is the TLS section of the config file.
type TlsConfig struct {
	// Flag enabling TLS.
	Enabled bool `json:"enabled"`
	// ACME autocert config, e.g. letsencrypt.org.
	Autocert *TlsAutocertConfig `json:"autocert"`
	// If Autocert is not defined, provide file names of static certificate and key.
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// TlsAutocertConfig is the autocert section of the TLS config.
type TlsAutocertConfig struct {
	// Domains to support by autocert.
	Domains []string `json:"domains"`
	// Name of directory where auto-certificates are cached.
	CertCache string `json:"cache"`
	// Contact email for letsencrypt.
	Email string `json:"email"`
}

func listenAndServe(addr string, mux *http.ServeMux, tlsConfigRaw json.RawMessage, stop <-chan bool) error {
	var tlsConfig TlsConfig
	if len(tlsConfigRaw) > 0 {
		if err := json.Unmarshal(tlsConfigRaw, &tlsConfig); err != nil {
			return errors.New("http: failed to parse tls_config: " + err.Error())
		}
	}

	server := &http.Server{Addr: addr, Handler: mux}

	if tlsConfig.Enabled {
		// If port is not specified, use default https port (443),
		// otherwise it will default to 80.
		if server.Addr == "" {
			server.Addr = ":https"
		}

		server.TLSConfig = &tls.Config{}
		if tlsConfig.Autocert != nil {
			certManager := autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(tlsConfig.Autocert.Domains...),
				Cache:      autocert.DirCache(tlsConfig.Autocert.CertCache),
				Email:      tlsConfig.Autocert.Email,
			}

			server.TLSConfig.GetCertificate = certManager.GetCertificate
			if tlsConfig.CertFile != "" || tlsConfig.KeyFile != "" {
				logs.Warn.Println("HTTP server: using autocert, static cert and key files are ignored")
				tlsConfig.CertFile = ""
				tlsConfig.KeyFile = ""
			}
		} else if tlsConfig.CertFile == "" || tlsConfig.KeyFile == "" {
			return errors.New("HTTP server: missing certificate or key file names")
		}
	}

	httpdone := make(chan error, 1)
	go func() {
		if tlsConfig.Enabled {
			httpdone <- server.ListenAndServeTLS(tlsConfig.CertFile, tlsConfig.KeyFile)
		} else {
			httpdone <- server.ListenAndServe()
		}
	}()

	var err error
	select {
	case err = <-httpdone:
		if err == http.ErrServerClosed {
			err = nil
		}

	case <-stop:
		// Give connections up to 2 seconds to finish.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if serr := server.Shutdown(ctx); serr != nil {
			logs.Err.Println("HTTP server failed to terminate gracefully:", serr)
		}

		// Terminate all sessions, then stop the hub.
		globals.sessionStore.Shutdown()

		hubdone := make(chan bool)
		globals.hub.shutdown <- hubdone

		// Wait for the hub to finish.
		<-hubdone

		statsShutdown()

		// Let the sessions close before the store disconnects.
		time.Sleep(time.Second)
	}

	return err
}

// signalHandler converts SIGINT/SIGTERM into a shutdown signal.
func signalHandler() <-chan bool {
	stop := make(chan bool)

	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, os.Interrupt, syscall.SIGTERM)

	go func() {
		// Wait for a signal. Don't care which signal it is.
		sig := <-signchan
		logs.Info.Printf("Signal received: '%s', shutting down", sig)
		stop <- true
	}()

	return stop
}
