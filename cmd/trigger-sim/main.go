// Command trigger-sim spins a simulated trigger wheel through the capture
// stream codec into a decoder and prints what the decoder saw.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/sweeney/ecu-trigger/internal/config"
	"github.com/sweeney/ecu-trigger/internal/decoders"
)

func main() {
	cfg := decoders.DefaultConfig()
	pattern := flag.Int("pattern", int(cfg.Pattern), "Trigger pattern ID (0 = missing tooth, 1 = basic distributor, 2 = dual wheel)")
	teeth := flag.Uint("teeth", uint(cfg.TriggerTeeth), "Primary wheel tooth count, including missing teeth")
	missing := flag.Uint("missing", uint(cfg.MissingTeeth), "Missing teeth on the primary wheel")
	cylinders := flag.Uint("cylinders", uint(cfg.Cylinders), "Cylinder count")
	triggerAngle := flag.Int("trigger-angle", int(cfg.TriggerAngle), "Crank angle of tooth #1 after TDC")
	sequential := flag.Bool("sequential", false, "Sequential spark, adds a cam pulse to missing tooth wheels")
	camSpeed := flag.Bool("cam-speed", false, "Primary wheel turns at cam speed")
	configPath := flag.String("config", "", "Read the engine configuration from this config page file")
	rpm := flag.Int("rpm", 3000, "Engine speed")
	cycles := flag.Int("cycles", 4, "720 degree cycles to simulate")
	step := flag.Int("step", 90, "Crank degrees between samples")
	corrupt := flag.Int("corrupt", 0, "Insert a corrupt frame every N frames (0 = never)")
	flag.Parse()

	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			pterm.Fatal.Printfln("read config: %v", err)
		}
		stored, err := config.Decode(b)
		if err == nil {
			err = config.Validate(stored)
		}
		if err != nil {
			pterm.Fatal.Printfln("load config %s: %v", *configPath, err)
		}
		cfg = stored
	} else {
		cfg.Pattern = decoders.ID(*pattern)
		cfg.TriggerTeeth = uint16(*teeth)
		cfg.MissingTeeth = uint16(*missing)
		cfg.Cylinders = uint8(*cylinders)
		cfg.TriggerAngle = int16(*triggerAngle)
		if *sequential {
			cfg.SparkMode = decoders.SparkSequential
		}
		if *camSpeed {
			cfg.TrigSpeed = decoders.CamSpeed
		}
	}

	res, err := simulate(cfg, run{RPM: *rpm, Cycles: *cycles, Step: *step, Corrupt: *corrupt})
	if err != nil {
		pterm.Fatal.Printfln("simulate: %v", err)
	}
	if err := render(cfg, *rpm, res); err != nil {
		pterm.Fatal.Printfln("render: %v", err)
	}
}

// tolerance is the largest crank angle error, in degrees, reported as a
// clean run.
const tolerance = 3

func render(cfg decoders.Config, rpm int, res *result) error {
	pterm.DefaultHeader.WithFullWidth().
		WithBackgroundStyle(pterm.NewStyle(pterm.BgBlue)).
		WithTextStyle(pterm.NewStyle(pterm.FgWhite)).
		Println(fmt.Sprintf("%s | %d-%d | %d cyl | %d rpm", cfg.Pattern, cfg.TriggerTeeth, cfg.MissingTeeth, cfg.Cylinders, rpm))

	pterm.Info.Printfln("%d edges replayed as %d frames, %d rejected", res.Edges, res.Frames, res.Bad)

	trace := [][]string{{"Time (ms)", "Wheel", "Crank", "Error", "Sync", "RPM", "Tooth"}}
	for _, s := range res.Samples {
		errCell := "-"
		if s.Counted {
			errCell = errorStyle(s.Error).Sprintf("%+d", s.Error)
		}
		trace = append(trace, []string{
			fmt.Sprintf("%.1f", float64(s.Time)/1000),
			fmt.Sprintf("%d", s.Wheel),
			fmt.Sprintf("%d", s.Crank),
			errCell,
			s.Sync.String(),
			fmt.Sprintf("%d", s.RPM),
			fmt.Sprintf("%d", s.Tooth),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(trace).Render(); err != nil {
		return err
	}

	teeth := [][]string{{"Channel", "Degrees", "End angle", "End tooth"}}
	for _, ch := range res.Channels {
		teeth = append(teeth, []string{
			fmt.Sprintf("%d", ch.Index+1),
			fmt.Sprintf("%d", ch.Degrees),
			fmt.Sprintf("%d", ch.EndAngle),
			fmt.Sprintf("%d", ch.EndTooth),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(teeth).Render(); err != nil {
		return err
	}

	switch {
	case !res.Synced:
		pterm.Warning.Println("Decoder never reached full sync.")
	case res.MaxError > tolerance:
		pterm.Warning.Printfln("Decoder synced but crank angle was off by up to %d degrees.", res.MaxError)
	default:
		pterm.Success.Printfln("Decoder synced, crank angle within %d degrees.", res.MaxError)
	}
	return nil
}

func errorStyle(e int) *pterm.Style {
	if e < 0 {
		e = -e
	}
	switch {
	case e <= 1:
		return pterm.NewStyle(pterm.FgGreen)
	case e <= tolerance:
		return pterm.NewStyle(pterm.FgYellow)
	default:
		return pterm.NewStyle(pterm.FgRed)
	}
}
