// Command ecu-trigger decodes crank and cam trigger wheels, drives injector
// and coil outputs, and publishes engine state changes to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/ecu-trigger/internal/capture"
	"github.com/sweeney/ecu-trigger/internal/config"
	"github.com/sweeney/ecu-trigger/internal/decoders"
	"github.com/sweeney/ecu-trigger/internal/gpio"
	"github.com/sweeney/ecu-trigger/internal/irq"
	"github.com/sweeney/ecu-trigger/internal/logic"
	"github.com/sweeney/ecu-trigger/internal/mqtt"
	"github.com/sweeney/ecu-trigger/internal/status"
	"github.com/sweeney/ecu-trigger/internal/storage"
	"github.com/sweeney/ecu-trigger/internal/web"
)

// options holds the runtime flags that are not part of the stored
// configuration page.
type options struct {
	configPath  string
	source      string
	chip        string
	baud        int
	pins        decoders.Pins
	injPins     []int
	coilPins    []int
	outputs     string
	tune        tuning
	tick        time.Duration
	poll        time.Duration
	debounce    time.Duration
	heartbeat   time.Duration
	broker      string
	clientID    string
	mqttBuffer  int
	httpAddr    string
	printConfig bool
}

func main() {
	var ef engineFlags
	ef.register(flag.CommandLine)

	configPath := flag.String("config", "", "Configuration page image (empty to run from flags only)")
	source := flag.String("source", "gpio", `Trigger source: "gpio" or the serial capture device`)
	chip := flag.String("chip", "gpiochip0", "GPIO chip for trigger inputs and outputs")
	baud := flag.Int("baud", capture.DefaultBaud, "Serial capture baud rate")
	pinPrimary := flag.Int("pin-primary", gpio.PinPrimary, "BCM pin number for the primary trigger")
	pinSecondary := flag.Int("pin-secondary", gpio.PinSecondary, "BCM pin number for the secondary trigger")
	pinTertiary := flag.Int("pin-tertiary", gpio.PinTertiary, "BCM pin number for the tertiary trigger")
	injPins := flag.String("inj-pins", formatPins(gpio.DefaultInjectorPins), "BCM pin numbers for injector outputs")
	coilPins := flag.String("coil-pins", formatPins(gpio.DefaultCoilPins), "BCM pin numbers for coil outputs")
	outputs := flag.String("outputs", "gpiocdev", `Output backend: "gpiocdev", "periph" or "none"`)
	dwell := flag.Duration("dwell", 3*time.Millisecond, "Coil dwell time")
	pw := flag.Duration("pw", 2*time.Millisecond, "Injector pulse width")
	injAngle := flag.Uint("inj-angle", 355, "Crank angle at which injection ends")
	advance := flag.Int("advance", 10, "Ignition advance in degrees BTDC")
	prime := flag.Uint("prime", 0, "Injector priming pulse in 0.5 ms units (0 to disable)")
	tick := flag.Duration("tick", time.Millisecond, "Output timer tick interval")
	poll := flag.Duration("poll", 100*time.Millisecond, "Decoder polling interval")
	debounce := flag.Duration("debounce", 250*time.Millisecond, "Debounce duration")
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	clientID := flag.String("mqtt-client", "ecu-trigger", "MQTT client ID")
	mqttBuffer := flag.Int("mqtt-buffer", mqtt.DefaultBufferSize, "Messages kept while the broker is unreachable")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")
	printConfig := flag.Bool("print-config", false, "Print the merged configuration and exit")

	flag.Parse()

	opts := options{
		configPath:  *configPath,
		source:      *source,
		chip:        *chip,
		baud:        *baud,
		pins:        decoders.Pins{Primary: *pinPrimary, Secondary: *pinSecondary, Tertiary: *pinTertiary},
		outputs:     *outputs,
		tick:        *tick,
		poll:        *poll,
		debounce:    *debounce,
		heartbeat:   *heartbeat,
		broker:      *broker,
		clientID:    *clientID,
		mqttBuffer:  *mqttBuffer,
		httpAddr:    *httpAddr,
		printConfig: *printConfig,
		tune: tuning{
			Dwell:    uint32(dwell.Microseconds()),
			PW:       uint32(pw.Microseconds()),
			InjAngle: uint16(*injAngle),
			Advance:  int8(*advance),
			Prime:    uint32(*prime),
		},
	}
	var err error
	if opts.injPins, err = parsePins(*injPins); err != nil {
		log.Fatalf("fatal: inj-pins: %v", err)
	}
	if opts.coilPins, err = parsePins(*coilPins); err != nil {
		log.Fatalf("fatal: coil-pins: %v", err)
	}

	if err := run(opts, &ef, setFlags(flag.CommandLine)); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig reads the stored page, applies the command line overrides and
// writes the result back. With no storage it starts from the defaults.
func loadConfig(store storage.Storage, ef *engineFlags, set map[string]bool) (decoders.Config, error) {
	cfg := decoders.DefaultConfig()
	if store != nil {
		stored, err := config.Load(store)
		switch {
		case err == nil:
			cfg = stored
		case errors.Is(err, config.ErrNoPage):
			log.Printf("config: no stored page, using defaults")
		default:
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	if err := ef.apply(&cfg, set); err != nil {
		return cfg, fmt.Errorf("apply flags: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, err
	}
	if store != nil {
		n, err := config.Save(store, cfg)
		if err != nil {
			return cfg, fmt.Errorf("save config: %w", err)
		}
		if n > 0 {
			log.Printf("config: wrote %d changed bytes", n)
		}
	}
	return cfg, nil
}

func run(opts options, ef *engineFlags, set map[string]bool) error {
	var store storage.Storage
	if opts.configPath != "" {
		f, err := storage.OpenFile(opts.configPath, config.PageSize)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		store = f
	}
	cfg, err := loadConfig(store, ef, set)
	if err != nil {
		return err
	}

	if opts.printConfig {
		fmt.Printf("pattern: %s (%d)\n", cfg.Pattern, cfg.Pattern)
		fmt.Printf("wheel: %d-%d, trigger angle %d, speed %d\n", cfg.TriggerTeeth, cfg.MissingTeeth, cfg.TriggerAngle, cfg.TrigSpeed)
		fmt.Printf("engine: %d cylinders, spark %d, injection %d\n", cfg.Cylinders, cfg.SparkMode, cfg.InjLayout)
		return nil
	}

	// Trigger source and its clock
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inputs decoders.Inputs
	micros := gpio.MonotonicMicros
	if opts.source == "gpio" {
		w, err := gpio.NewChipWatcher(opts.chip, opts.pins.Secondary, opts.pins.Tertiary)
		if err != nil {
			return fmt.Errorf("init trigger inputs: %w", err)
		}
		defer w.Close()
		inputs = w
	} else {
		src, err := capture.OpenSerial(opts.source, opts.baud)
		if err != nil {
			return fmt.Errorf("init capture: %w", err)
		}
		defer src.Close()
		go func() {
			if err := src.Run(ctx); err != nil {
				log.Printf("capture stopped: %v", err)
			}
		}()
		inputs = src
		micros = src.Micros
	}

	guard := &irq.Guard{}
	eng := newEngine(cfg, guard, micros, opts.tune, opts.injPins, opts.coilPins)

	// Outputs
	out, err := openOutputs(opts)
	if err != nil {
		return fmt.Errorf("init outputs: %w", err)
	}
	if out != nil {
		defer out.Close()
		eng.wire(out)
	}

	eng.ctx.SetInputs(inputs, opts.pins)
	if err := eng.ctx.SetDecoder(cfg.Pattern); err != nil {
		return fmt.Errorf("install decoder: %w", err)
	}
	defer eng.sched.AllOff()
	eng.prime()

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(opts.broker, opts.clientID, opts.mqttBuffer)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Pattern:      cfg.Pattern.String(),
		TriggerTeeth: cfg.TriggerTeeth,
		MissingTeeth: cfg.MissingTeeth,
		TriggerAngle: cfg.TriggerAngle,
		Cylinders:    cfg.Cylinders,
		Source:       opts.source,
		Outputs:      opts.outputs,
		PollMs:       opts.poll.Milliseconds(),
		DebounceMs:   opts.debounce.Milliseconds(),
		HeartbeatMs:  opts.heartbeat.Milliseconds(),
		Broker:       opts.broker,
		HTTPPort:     opts.httpAddr,
	})
	tracker.SetEngine(eng.engineStatus())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if opts.httpAddr != "" {
		srv := web.New(opts.httpAddr, tracker, eng.ctx)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", opts.httpAddr)
	}

	log.Printf("ecu-trigger starting: decoder=%s teeth=%d-%d cylinders=%d source=%s outputs=%s broker=%s",
		cfg.Pattern, cfg.TriggerTeeth, cfg.MissingTeeth, cfg.Cylinders, opts.source, opts.outputs, opts.broker)

	timerTicker := time.NewTicker(opts.tick)
	defer timerTicker.Stop()
	pollTicker := time.NewTicker(opts.poll)
	defer pollTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(eng, publisher, publisher, tracker, opts.debounce, opts.heartbeat, time.Now, timerTicker.C, pollTicker.C, sigCh, nil)
}

// openOutputs returns the output backend, or nil when outputs are off.
func openOutputs(opts options) (gpio.Outputs, error) {
	pins := append(append([]int(nil), opts.injPins...), opts.coilPins...)
	switch opts.outputs {
	case "gpiocdev":
		return gpio.NewChipOutputs(opts.chip, pins)
	case "periph":
		return gpio.NewPeriphOutputs(pins)
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown output backend %q", opts.outputs)
}

// bufferStatus is implemented by publishers with an offline buffer.
type bufferStatus interface {
	Buffered() (waiting, dropped int)
}

// runLoop drives the engine until a signal arrives. timerTick advances and
// arms the schedules; poll samples the decoder for events, heartbeats and
// the status tracker. When polled is non-nil it receives a value after
// each poll has been fully handled.
func runLoop(eng *engine, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, debounce, heartbeat time.Duration, now func() time.Time, timerTick, poll <-chan time.Time, sig <-chan os.Signal, polled chan<- struct{}) error {
	startTime := now()
	detector := logic.NewDetector(debounce, startTime)
	var outputErrs uint32

	updateMQTT := func() {
		if mqttStatus == nil {
			return
		}
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
		if b, ok := mqttStatus.(bufferStatus); ok {
			tracker.SetMQTTBuffer(b.Buffered())
		}
	}
	updateTracker := func() {
		engineState, syncState := detector.CurrentState()
		tracker.Update(engineState, syncState, detector.IsBaselined(), detector.Counts())
		tracker.SetEngine(eng.engineStatus())
		updateMQTT()
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			eng.sched.AllOff()
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				updateMQTT()
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-timerTick:
			eng.tick()

		case <-poll:
			outputErrs = handlePoll(eng, detector, publisher, tracker, heartbeat, now(), outputErrs, updateTracker)
			if polled != nil {
				polled <- struct{}{}
			}
		}
	}
}

// handlePoll runs one decoder poll and returns the output error count it
// has logged up to.
func handlePoll(eng *engine, detector *logic.Detector, publisher mqtt.Publisher, tracker *status.Tracker, heartbeat time.Duration, t time.Time, outputErrs uint32, updateTracker func()) uint32 {
	wasStalled := eng.stalled
	input := eng.step()
	input.Time = t
	if eng.stalled && !wasStalled {
		log.Printf("engine stalled: decoder reset, outputs off")
	}
	if n := eng.outputErrs.Load(); n != outputErrs {
		log.Printf("output write errors: %d", n-outputErrs)
		outputErrs = n
	}

	events := detector.Process(input)
	for _, event := range events {
		log.Printf("event: %s (engine=%s sync=%s rpm=%d)", event.Type, event.EngineState, event.SyncState, event.RPM)
		if err := publisher.Publish(event); err != nil {
			log.Printf("publish error: %v", err)
			// Don't crash on publish failure
		}
	}

	if !detector.IsBaselined() {
		// Still waiting for baseline
		return outputErrs
	}

	// Check for heartbeat
	if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
		log.Printf("heartbeat: uptime=%v starts=%d stops=%d sync_gained=%d sync_lost=%d",
			hbData.Uptime, hbData.Counts.EngineStart, hbData.Counts.EngineStop, hbData.Counts.SyncGained, hbData.Counts.SyncLost)

		hbEvent := mqtt.SystemEvent{
			Timestamp: hbData.Timestamp,
			Event:     "HEARTBEAT",
		}
		if tracker != nil {
			updateTracker()
			snap := tracker.Snapshot()
			hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
		}
		if err := publisher.PublishSystem(hbEvent); err != nil {
			log.Printf("heartbeat publish error: %v", err)
		}
	}

	// Update status tracker for HTTP consumers
	if tracker != nil {
		updateTracker()
	}
	return outputErrs
}
