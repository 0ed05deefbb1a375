// Command imapmemserver serves an in-memory IMAP mailbox, for trying
// mailpulse without a real account.
package main

import (
	"crypto/tls"
	"flag"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mailpulse/mailpulse/internal/imaptest"
)

var (
	listen   string
	tlsCert  string
	tlsKey   string
	username string
	password string
	seedDir  string
	noIdle   bool
	debug    bool
)

func main() {
	flag.StringVar(&listen, "listen", "localhost:1143", "listening address")
	flag.StringVar(&tlsCert, "tls-cert", "", "TLS certificate")
	flag.StringVar(&tlsKey, "tls-key", "", "TLS key")
	flag.StringVar(&username, "username", "user@example.org", "Username")
	flag.StringVar(&password, "password", "user", "Password")
	flag.StringVar(&seedDir, "seed", "", "directory of .eml files delivered to INBOX at startup")
	flag.BoolVar(&noIdle, "no-idle", false, "do not advertise IDLE")
	flag.BoolVar(&debug, "debug", false, "Print all commands")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	srv := imaptest.NewServer(username, password)
	if noIdle {
		var caps []string
		for _, c := range srv.Caps {
			if c != "IDLE" {
				caps = append(caps, c)
			}
		}
		srv.Caps = caps
	}
	if debug {
		srv.OnCommand = func(line string) {
			logger.Debug().Str("command", line).Msg("received")
		}
	}

	if seedDir != "" {
		paths, err := filepath.Glob(filepath.Join(seedDir, "*.eml"))
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list seed messages")
		}
		for _, p := range paths {
			raw, err := os.ReadFile(p)
			if err != nil {
				logger.Fatal().Err(err).Str("path", p).Msg("Failed to read seed message")
			}
			srv.Deliver("INBOX", []byte(strings.ReplaceAll(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n", "\r\n")))
		}
		logger.Info().Int("messages", len(paths)).Msg("Seeded INBOX")
	}

	var ln net.Listener
	var err error
	if tlsCert != "" || tlsKey != "" {
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load TLS key pair")
		}
		ln, err = tls.Listen("tcp", listen, &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", listen)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to listen")
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("IMAP server listening")

	if err := srv.Serve(ln); err != nil {
		logger.Fatal().Err(err).Msg("Serve() failed")
	}
}
