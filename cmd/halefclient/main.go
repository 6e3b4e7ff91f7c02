package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"gopkg.in/ini.v1"

	"halefclient/internal/feedback"
	"halefclient/internal/logging"
	"halefclient/internal/metrics"
	"halefclient/internal/session"
	"halefclient/internal/settings"
	"halefclient/internal/telephony"
)

var sipServer gosip.Server

func startSIP(cfg *settings.Settings) error {
	logging.Core.Info("starting SIP server")

	port := cfg.SIPPort()
	portRange := cfg.SIPPortRange()
	host := cfg.PublicAddress()
	if host == "" {
		detected, err := telephony.DetectHostIP()
		if err != nil {
			return fmt.Errorf("detect host address: %w", err)
		}
		host = detected
		logging.Core.Infof("using detected host address %s", host)
	}

	logger := gosiplog.NewLogrusLogger(logging.SIP, "SIP", nil)

	sipServer = gosip.NewServer(gosip.ServerConfig{Host: host, UserAgent: "halefclient"}, nil, nil, logger)

	var listenErr error
	for i := 0; i <= portRange; i++ {
		addr := fmt.Sprintf(":%d", port+i)
		listenErr = sipServer.Listen("udp", addr)
		if listenErr == nil {
			logging.Core.Infof("SIP server listening on %s/udp", addr)
			return nil
		}
		logging.Core.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	return fmt.Errorf("sip listen: %w", listenErr)
}

// consoleCallbacks prints session events for the interactive front-end.
type consoleCallbacks struct{}

func (consoleCallbacks) RegisterStatus(state session.RegistrationState, code int, reason string) {
	if state == session.RegistrationFailed && reason != "" {
		fmt.Printf("* registration: %s (%d %s)\n", state, code, reason)
		return
	}
	fmt.Printf("* registration: %s\n", state)
}

func (consoleCallbacks) CallStatus(state session.CallState) {
	fmt.Printf("* call: %s\n", state)
}

func (consoleCallbacks) FeedbackMessage(message string) {
	fmt.Printf("> %s\n", message)
}

func (consoleCallbacks) DebugMessage(message string) {
	logging.Core.Debug(message)
}

// consoleAudio stands in for a device audio route. It only records what
// the session layer asked for.
type consoleAudio struct{}

func (consoleAudio) SetLoudspeaker(enabled bool) error {
	logging.Core.Debugf("audio: loudspeaker=%v", enabled)
	return nil
}

func (consoleAudio) SetVolume(level float64) error {
	logging.Core.Debugf("audio: volume=%.2f", level)
	return nil
}

func (consoleAudio) SetMuted(muted bool) error {
	logging.Core.Debugf("audio: muted=%v", muted)
	return nil
}

// noopChannel satisfies the controller when the feedback channel is
// disabled in settings.
type noopChannel struct{}

func (noopChannel) Open(string, func(string), func(string)) {}
func (noopChannel) Close()                                  {}

// presets maps menu digits to well-known dialogue applications.
var presets = map[string]struct {
	destination string
	title       string
}{
	"1": {"7801", "coffee shop conversation"},
	"2": {"7804", "job interview practice"},
	"3": {"7725", "grammar tasks"},
}

func printMenu() {
	fmt.Println("commands:")
	for _, digit := range []string{"1", "2", "3"} {
		p := presets[digit]
		fmt.Printf("  %s            call %s (%s)\n", digit, p.destination, p.title)
	}
	fmt.Println("  call <dest>  call an arbitrary destination")
	fmt.Println("  hangup       hang up the active call")
	fmt.Println("  quit         unregister and exit")
}

func main() {
	settingsPath := flag.String("settings", "settings.ini", "path to settings.ini")
	flag.Parse()

	cfg, err := ini.Load(*settingsPath)
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		return
	}

	conf, err := settings.Load(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		return
	}

	if err := logging.Init(cfg); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		return
	}
	defer logging.Close()

	if conf.MetricsEnabled() {
		go func() {
			if err := metrics.Serve(conf.MetricsListen()); err != nil {
				logging.Core.Warnf("metrics server: %v", err)
			}
		}()
	}

	if err := startSIP(conf); err != nil {
		logging.Core.Fatalf("failed to start SIP client: %v", err)
	}

	client, err := telephony.NewClient(sipServer, conf.RegisterExpiry(), logging.SIP)
	if err != nil {
		logging.Core.Fatalf("failed to start telephony client: %v", err)
	}

	var channel session.EventChannel = noopChannel{}
	if conf.FeedbackEnabled() {
		channel = feedback.NewCoordinator(feedback.Config{
			Endpoint: conf.FeedbackEndpoint(),
			Path:     conf.FeedbackPath(),
		}, logging.Channel)
	}

	controller := session.NewController(client, channel, consoleAudio{}, consoleCallbacks{}, logging.Core)

	identity := telephony.Identity{
		Domain:   conf.SIPDomain(),
		Username: conf.SIPUsername(),
		Password: conf.SIPPassword(),
	}
	controller.Register(identity)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	printMenu()
	for {
		select {
		case sig := <-sigs:
			logging.Core.Infof("received %s, shutting down", sig)
			controller.Close()
			return
		case line, ok := <-lines:
			if !ok {
				controller.Close()
				return
			}
			switch {
			case line == "":
			case line == "quit" || line == "exit":
				controller.Close()
				return
			case line == "hangup":
				controller.HangUp()
			case line == "register":
				controller.Register(identity)
			case strings.HasPrefix(line, "call "):
				dial(controller, strings.TrimSpace(strings.TrimPrefix(line, "call ")))
			default:
				if p, ok := presets[line]; ok {
					fmt.Printf("calling %s\n", p.title)
					dial(controller, p.destination)
					continue
				}
				printMenu()
			}
		}
	}
}

func dial(controller *session.Controller, destination string) {
	if err := controller.Call(destination); err != nil {
		fmt.Printf("cannot call %s: %v\n", destination, err)
	}
}
