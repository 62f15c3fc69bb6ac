/******************************************************************************
 *
 *  Description :
 *
 *    Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"runtime"
	"time"

	// Database adapters.
	_ "github.com/uniconnect/chat/server/db/mem"
	_ "github.com/uniconnect/chat/server/db/mysql"

	// Authentication schemes.
	_ "github.com/uniconnect/chat/server/auth/jwt"

	"github.com/uniconnect/chat/server/logs"
	"github.com/uniconnect/chat/server/store"
)

const (
	// Terminate a session after this timeout without any traffic from the client.
	idleSessionTimeout = time.Second * 55

	// currentVersion is the version of the server.
	currentVersion = "0.4"
)

var globals struct {
	hub          *Hub
	sessionStore *SessionStore
	statsUpdate  chan *varUpdate
}

type configType struct {
	// HTTP(S) address:port to listen on.
	Listen string `json:"listen"`
	// URL path for exposing runtime stats, e.g. "/debug/vars". Disabled if empty.
	ExpvarPath string `json:"expvar"`
	// Configuration of the database interface.
	StoreConfig json.RawMessage `json:"store_config"`
	// Configurations of authentication schemes, indexed by scheme name.
	AuthConfig map[string]json.RawMessage `json:"auth_config"`
	// TLS configuration.
	TlsConfig json.RawMessage `json:"tls"`
}

func main() {
	logs.Init()
	logs.Info.Printf("Server v%s pid=%d started with processes: %d",
		currentVersion, os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	var configfile = flag.String("config", "./chat.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override config address and port to listen on.")
	var initDb = flag.Bool("init_db", false, "Create the database schema and exit.")
	flag.Parse()

	logs.Info.Printf("Using config from: '%s'", *configfile)

	var config configType
	if raw, err := os.ReadFile(*configfile); err != nil {
		logs.Err.Fatal(err)
	} else if err = json.Unmarshal(raw, &config); err != nil {
		logs.Err.Fatal(err)
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}

	if err := store.Open(string(config.StoreConfig)); err != nil {
		logs.Err.Fatal("Failed to connect to DB: ", err)
	}
	defer func() {
		store.Close()
		logs.Info.Println("Closed database connection(s)")
	}()
	logs.Info.Println("DB adapter:", store.GetAdapterName())

	if *initDb {
		if err := store.InitDb(false); err != nil {
			logs.Err.Fatal("Failed to initialize DB: ", err)
		}
		logs.Info.Println("Database schema initialized")
		return
	}

	for name, conf := range config.AuthConfig {
		handler := store.GetAuthHandler(name)
		if handler == nil {
			logs.Err.Fatal("Unknown authentication scheme: ", name)
		}
		if err := handler.Init(string(conf)); err != nil {
			logs.Err.Fatal("Failed to init auth scheme ", name, ": ", err)
		}
	}
	if store.GetAuthHandler("jwt") == nil {
		logs.Err.Fatal("The jwt authentication scheme must be configured")
	}

	globals.sessionStore = NewSessionStore()
	globals.hub = newHub()

	mux := http.NewServeMux()
	// Websocket clients.
	mux.HandleFunc("/v0/channels", serveWebSocket)
	// REST surface of the chat subsystem.
	mux.Handle("/api/chat/", chatAPIHandler())

	statsInit(mux, config.ExpvarPath)
	statsRegisterInt("IncomingMessagesWebsockTotal")
	statsRegisterInt("OutgoingMessagesWebsockTotal")

	logs.Info.Printf("Listening on [%s]", config.Listen)
	if err := listenAndServe(config.Listen, mux, config.TlsConfig, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
}
